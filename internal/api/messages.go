package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/advisorhq/advisor/internal/message"
)

const (
	messageListDefaultLimit = 50
	messageListMaxLimit     = 200
)

type feedbackRequest struct {
	ThumbsUp *bool   `json:"thumbsUp"`
	Feedback *string `json:"feedback"`
}

// messageHandler serves message lookup and feedback submission.
type messageHandler struct {
	messages *message.Store
	logger   *slog.Logger
}

// list handles GET /api/messages?limit=. Newest first.
func (h *messageHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := messageListDefaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, messageListMaxLimit)
	}

	msgs, err := h.messages.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("message list failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// get handles GET /api/messages/{id}.
func (h *messageHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_ID", "message id must be a UUID")
		return
	}

	msg, err := h.messages.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
			return
		}
		h.logger.Error("message lookup failed", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load message")
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// feedback handles POST /api/messages/{id}/feedback.
func (h *messageHandler) feedback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_ID", "message id must be a UUID")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON")
		return
	}
	if req.ThumbsUp == nil && req.Feedback == nil {
		writeJSONError(w, http.StatusBadRequest, "EMPTY_FEEDBACK", "provide thumbsUp, feedback, or both")
		return
	}

	if err := h.messages.SetFeedback(r.Context(), id, req.ThumbsUp, req.Feedback); err != nil {
		if errors.Is(err, message.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
			return
		}
		h.logger.Error("feedback update failed", "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to save feedback")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
