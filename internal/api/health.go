package api

import (
	"encoding/json"
	"net/http"

	"github.com/seantiz/examlens/internal/model"
)

type sessionHealth struct {
	Running bool   `json:"running"`
	BatchID string `json:"batch_id,omitempty"`
}

type healthResponse struct {
	Status   string                       `json:"status"`
	Backends int                          `json:"backends"`
	Sessions map[model.Mode]sessionHealth `json:"sessions"`
}

// handleHealthz reports liveness plus whether each session has a batch in
// flight. Status is "degraded" when no job service is registered.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Backends: len(s.remotes.List()),
		Sessions: make(map[model.Mode]sessionHealth, 2),
	}
	for _, mode := range []model.Mode{model.ModeClass, model.ModeStudent} {
		sess, err := s.engine.Session(mode)
		if err != nil {
			continue
		}
		snap := sess.Snapshot()
		resp.Sessions[mode] = sessionHealth{Running: snap.Running, BatchID: snap.BatchID}
	}
	if resp.Backends == 0 {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
