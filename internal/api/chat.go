package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/advisorhq/advisor/internal/message"
	"github.com/advisorhq/advisor/internal/pipeline"
	"github.com/advisorhq/advisor/internal/search"
)

// maxChatBodyBytes limits the chat request body size.
const maxChatBodyBytes = 1 << 20 // 1MB

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Query string `json:"query"`
}

// chatHandler serves the streaming chat endpoint.
type chatHandler struct {
	pipeline *pipeline.Pipeline
	messages *message.Store
	logger   *slog.Logger
}

// serve streams the answer to a query as NDJSON: one init event with the
// message ID, content events for each response chunk, then exactly one
// complete or error event. If the client disconnects mid-stream we stop
// pulling chunks and write nothing further.
func (h *chatHandler) serve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Query == "" {
		writeJSONError(w, http.StatusBadRequest, "MISSING_QUERY", "query is required")
		return
	}

	ctx := r.Context()

	msg, err := h.messages.Create(ctx, req.Query)
	if err != nil {
		h.logger.Error("creating message", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to create message")
		return
	}

	nw, err := newNDJSONWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming not supported")
		return
	}

	if err := nw.WriteInit(msg.ID.String()); err != nil {
		h.logger.Debug("writing init event", "error", err)
		return
	}

	answer, err := h.pipeline.Respond(ctx, msg)
	if err != nil {
		h.logger.Error("pipeline failed before streaming", "message_id", msg.ID, "error", err)
		_ = nw.WriteError(userFacingError(err))
		return
	}

	for chunk, err := range answer.Stream.Chunks() {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected", "message_id", msg.ID)
			return
		default:
		}

		if err != nil {
			_ = nw.WriteError(userFacingError(err))
			return
		}

		if err := nw.WriteContent(chunk); err != nil {
			// Write failure usually means the connection closed;
			// breaking out stops the producer via the stream.
			h.logger.Debug("writing content chunk", "error", err)
			return
		}
	}

	final, err := answer.Final(ctx)
	if err != nil {
		if ctx.Err() == nil {
			_ = nw.WriteError(userFacingError(err))
		}
		return
	}

	_ = nw.WriteComplete(final)
	h.logger.Info("chat stream completed", "message_id", msg.ID)
}

// userFacingError maps pipeline errors to stable descriptions without
// leaking provider internals.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, search.ErrQueryEmbedding):
		return "Search is temporarily unavailable. Please try again."
	case errors.Is(err, pipeline.ErrStage1):
		return "Failed to generate a response. Please try again."
	case errors.Is(err, pipeline.ErrStage2):
		return "Failed to complete the response. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
