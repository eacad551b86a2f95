package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/calico0/parley/internal/chat"
)

const maxRequestBody = 64 * 1024

// SSE event names on the stream endpoint.
const (
	eventChunk = "chunk"
	eventDone  = "done"
)

// Turner runs one complete translation turn against a transport.
// Implemented by *chat.Orchestrator.
type Turner interface {
	HandleTurn(ctx context.Context, userID int64, text, personaID string, transport chat.Transport) error
}

type translateRequest struct {
	Text    string `json:"text"`
	Persona string `json:"persona,omitempty"`
}

type translateResponse struct {
	Translation   string `json:"translation"`
	SpecialReport bool   `json:"special_report"`
}

// decodeTranslateRequest reads and validates the shared request body for
// both the sync and streaming endpoints. On failure it writes the error
// response and returns false.
func decodeTranslateRequest(w http.ResponseWriter, r *http.Request) (translateRequest, bool) {
	var req translateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "empty_input", "text is required")
		return req, false
	}
	return req, true
}

// sseTransport streams turn output as server-sent events, one flush per
// event so chunks reach the client as they are produced.
type sseTransport struct {
	w       io.Writer
	flusher http.Flusher
}

func (t *sseTransport) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) SendChunk(_ context.Context, text string) error {
	return t.send(eventChunk, map[string]string{"text": text})
}

func (t *sseTransport) SendComplete(_ context.Context) error {
	return t.send(eventDone, struct{}{})
}

// bufferTransport accumulates turn output for the non-streaming endpoint.
type bufferTransport struct {
	text strings.Builder
	done bool
}

func (t *bufferTransport) SendChunk(_ context.Context, text string) error {
	t.text.WriteString(text)
	return nil
}

func (t *bufferTransport) SendComplete(_ context.Context) error {
	t.done = true
	return nil
}

// handleTranslateStream runs one turn and streams the translation as SSE.
// All pre-turn rejections (auth, validation, busy) are plain JSON errors;
// once the SSE headers go out, failures arrive as in-character chunk events
// followed by done, never as an HTTP error.
func (s *Server) handleTranslateStream(w http.ResponseWriter, r *http.Request) {
	userID := s.identity.userID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "auth_required", "login required")
		return
	}

	req, ok := decodeTranslateRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	if !s.turns.acquire(userID) {
		writeError(w, http.StatusConflict, "TURN_IN_FLIGHT", "a turn is already in progress for this user")
		return
	}
	defer s.turns.release(userID)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	transport := &sseTransport{w: w, flusher: flusher}
	if err := s.turner.HandleTurn(r.Context(), userID, req.Text, req.Persona, transport); err != nil {
		// The transport already carried the in-character failure (or the
		// client is gone). Nothing more to send here.
		s.logger.Warn("streaming turn failed", "user_id", userID, "error", err)
	}
}

// handleTranslate runs one turn and returns the full translation as JSON.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	userID := s.identity.userID(r)
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "auth_required", "login required")
		return
	}

	req, ok := decodeTranslateRequest(w, r)
	if !ok {
		return
	}

	if !s.turns.acquire(userID) {
		writeError(w, http.StatusConflict, "TURN_IN_FLIGHT", "a turn is already in progress for this user")
		return
	}
	defer s.turns.release(userID)

	transport := &bufferTransport{}
	if err := s.turner.HandleTurn(r.Context(), userID, req.Text, req.Persona, transport); err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyInput):
			writeError(w, http.StatusBadRequest, "empty_input", "text is required")
		case errors.Is(err, chat.ErrAuthRequired):
			writeError(w, http.StatusUnauthorized, "auth_required", "login required")
		default:
			// The buffered text is the in-character failure message; return
			// it with an error status so callers can distinguish.
			writeJSON(w, http.StatusBadGateway, translateResponse{
				Translation:   transport.text.String(),
				SpecialReport: false,
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, translateResponse{
		Translation:   transport.text.String(),
		SpecialReport: chat.IsSpecialReport(req.Text),
	})
}
