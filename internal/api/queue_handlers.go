package api

import (
	"errors"
	"net/http"

	"github.com/flitsinc/agent-worlds/internal/queue"
)

func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, "/api/queue/")
	if len(segments) == 0 {
		writeError(w, http.StatusNotFound, errNotFound("queue message"))
		return
	}
	id := segments[0]
	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		msg, err := s.Queue.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if msg == nil {
			writeError(w, http.StatusNotFound, errNotFound("queue message"))
			return
		}
		writeJSON(w, http.StatusOK, msg)
		return
	}

	switch segments[1] {
	case "retry":
		s.handleQueueRetry(w, r, id)
	case "fail":
		s.handleQueueFail(w, r, id)
	default:
		writeError(w, http.StatusNotFound, errNotFound("queue action"))
	}
}

// handleQueueRetry requeues a terminally failed message that still has
// retry budget.
func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	retried, err := s.Queue.RetryMessage(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !retried {
		writeError(w, http.StatusConflict, errors.New("message is not retryable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleQueueFail is the operator escape hatch for a message wedged in
// processing with no retry budget left.
func (s *Server) handleQueueFail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r.Body, &payload)
	if payload.Reason == "" {
		payload.Reason = "failed by operator"
	}
	if err := s.Queue.ForceFail(r.Context(), id, payload.Reason); err != nil {
		if errors.Is(err, queue.ErrMessageNotFound) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMessageItem serves the reply chain for a conversation message id.
func (s *Server) handleMessageItem(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r, "/api/messages/")
	if len(segments) != 2 || segments[1] != "thread" {
		writeError(w, http.StatusNotFound, errNotFound("message resource"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	thread, err := s.Queue.Thread(r.Context(), segments[0])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}
