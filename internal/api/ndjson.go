package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/advisorhq/advisor/internal/message"
)

// Streaming event types. Consumers see exactly one init, zero or more
// content events, then exactly one terminal event (complete or error).
const (
	EventInit     = "init"
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

type initEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type contentEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type completeEvent struct {
	Type    string           `json:"type"`
	Message *message.Message `json:"message"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ndjsonWriter streams newline-delimited JSON events over a chunked HTTP
// response, flushing after every event. Once a terminal event has been
// written all further writes are dropped, preserving the event ordering
// contract for the consumer.
type ndjsonWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	terminal bool
}

// newNDJSONWriter prepares w for NDJSON streaming and sets the response
// headers.
func newNDJSONWriter(w http.ResponseWriter) (*ndjsonWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &ndjsonWriter{w: w, flusher: flusher}, nil
}

// WriteInit sends the init event carrying the message identifier. Written
// before any generation work begins.
func (w *ndjsonWriter) WriteInit(messageID string) error {
	return w.write(initEvent{Type: EventInit, MessageID: messageID})
}

// WriteContent sends one response chunk.
func (w *ndjsonWriter) WriteContent(text string) error {
	return w.write(contentEvent{Type: EventContent, Content: text})
}

// WriteComplete sends the terminal success event with the persisted message.
func (w *ndjsonWriter) WriteComplete(msg *message.Message) error {
	if err := w.write(completeEvent{Type: EventComplete, Message: msg}); err != nil {
		return err
	}
	w.terminal = true
	return nil
}

// WriteError sends the terminal error event.
func (w *ndjsonWriter) WriteError(errText string) error {
	if err := w.write(errorEvent{Type: EventError, Error: errText}); err != nil {
		return err
	}
	w.terminal = true
	return nil
}

func (w *ndjsonWriter) write(event any) error {
	if w.terminal {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if _, err := w.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}

	w.flusher.Flush()
	return nil
}
