package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr    string `json:"http_addr"`
	DataDir     string `json:"data_dir"`
	DBPath      string `json:"db_path"`
	WebDir      string `json:"web_dir"`
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	LLMConfigured bool            `json:"llm_configured"`
	Info          DiagnosticsInfo `json:"info"`
	Worlds        []worldStatus   `json:"worlds"`
}

type worldStatus struct {
	ID          string `json:"id"`
	Agents      int    `json:"agents"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		LLMConfigured: s.Info.LLMProvider != "" && s.Info.LLMModel != "",
		Info:          s.Info,
		Worlds:        []worldStatus{},
	}
	for _, rt := range s.Manager.List() {
		resp.Worlds = append(resp.Worlds, worldStatus{
			ID:          rt.World.ID,
			Agents:      len(rt.Agents()),
			Subscribers: rt.Bus.SubscriberCount(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
