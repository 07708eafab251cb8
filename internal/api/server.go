// Package api provides the HTTP/WebSocket surface: read-only JSON
// endpoints for observation plus the renderer websocket at /ws.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/talgya/songpond/internal/engine"
	"github.com/talgya/songpond/internal/persistence"
)

// Server serves engine state over HTTP.
type Server struct {
	Eng  *engine.Engine
	Hub  *Hub
	Rec  *persistence.Recorder // May be nil
	Port int
}

// Start registers routes and begins serving in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/notes/recent", s.handleRecentNotes)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/ws", s.Hub.ServeWS)

	addr := fmt.Sprintf(":%d", s.Port)
	go func() {
		slog.Info("api listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("api server failed", "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sv := s.Eng.Sim.Status()
	if sv == nil {
		writeJSON(w, map[string]any{"running": false})
		return
	}
	writeJSON(w, map[string]any{
		"running":       s.Eng.Active(),
		"run_id":        sv.RunID,
		"seed":          sv.Seed,
		"tick":          sv.Tick,
		"audio_time":    sv.AudioTime,
		"population":    sv.Population,
		"coupling":      sv.Coupling,
		"coherence":     sv.Coherence,
		"notes":         sv.NotesEmitted,
		"conversations": sv.Conversations,
		"light_level":   sv.LightLevel,
		"started_at":    sv.StartedAt,
	})
}

// handleAgents serves the latest visualization projection, the engine's
// lossy per-agent view, safe to read concurrently.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	viz := s.Eng.Sim.LastViz()
	if viz == nil {
		writeJSON(w, []engine.VizAgent{})
		return
	}
	writeJSON(w, viz.Agents)
}

func (s *Server) handleRecentNotes(w http.ResponseWriter, r *http.Request) {
	if s.Rec == nil {
		http.Error(w, "recording disabled", http.StatusNotFound)
		return
	}
	sv := s.Eng.Sim.Status()
	if sv == nil {
		writeJSON(w, []persistence.NoteRow{})
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	notes, err := s.Rec.RecentNotes(sv.RunID, limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		slog.Warn("recent notes query failed", "error", err)
		return
	}
	writeJSON(w, notes)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.Rec == nil {
		http.Error(w, "recording disabled", http.StatusNotFound)
		return
	}
	runs, err := s.Rec.Runs()
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}
