package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// kindsParam parses the kinds query parameter, defaulting to the kinds a
// chat frontend needs.
func kindsParam(r *http.Request) []eventbus.Kind {
	raw := r.URL.Query().Get("kinds")
	if raw == "" {
		return []eventbus.Kind{eventbus.KindMessage, eventbus.KindActivity, eventbus.KindSystem}
	}
	var kinds []eventbus.Kind
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kinds = append(kinds, eventbus.Kind(part))
	}
	return kinds
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request, worldID string) {
	rt, ok := s.Manager.Get(worldID)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("world"))
		return
	}
	kinds := kindsParam(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := r.Context()
	if err := streamEvents(ctx, rt.Bus, kinds, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func streamEvents(ctx context.Context, bus *eventbus.Bus, kinds []eventbus.Kind, writer wsWriter) error {
	sub := bus.Subscribe(ctx, kinds...)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request, worldID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	rt, ok := s.Manager.Get(worldID)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("world"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNotFound("streaming support"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte(":ok\n\n"))
	flusher.Flush()

	ctx := r.Context()
	sub := rt.Bus.Subscribe(ctx, kindsParam(r)...)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			payload, _ := json.Marshal(evt)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
