package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flitsinc/agent-worlds/internal/engine"
	"github.com/flitsinc/agent-worlds/internal/queue"
	"github.com/flitsinc/agent-worlds/internal/state"
	"github.com/flitsinc/agent-worlds/internal/web"
)

type Server struct {
	Manager   *engine.Manager
	Store     *state.Store
	Queue     *queue.Store
	WebDir    string
	StartedAt time.Time
	Info      DiagnosticsInfo

	// TurnLimit is the default turn budget for worlds created without one.
	TurnLimit int
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/worlds", s.handleWorlds)
	mux.HandleFunc("/api/worlds/", s.handleWorldItem)
	mux.HandleFunc("/api/queue/", s.handleQueueItem)
	mux.HandleFunc("/api/messages/", s.handleMessageItem)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.Handle("/metrics", promhttp.Handler())

	if s.WebDir != "" {
		webServer := &web.Server{Dir: s.WebDir}
		mux.Handle("/", webServer.Handler())
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func pathSegments(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

type notFoundError struct {
	msg string
}

func (e notFoundError) Error() string { return e.msg }

func errNotFound(target string) error {
	return notFoundError{msg: target + " not found"}
}
