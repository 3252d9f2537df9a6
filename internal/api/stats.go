package api

import (
	"net/http"

	"github.com/seantiz/examlens/internal/engine"
	"github.com/seantiz/examlens/internal/model"
)

// statsResponse is the JSON response for GET /v1/stats. Archived figures
// cover completed batches; Live holds the counts of the current batch of
// each session.
type statsResponse struct {
	Batches       int                          `json:"batches"`
	Total         int                          `json:"total"`
	ByStatus      map[string]int               `json:"by_status"`
	ByErrorKind   map[string]int               `json:"by_error_kind"`
	ByModel       map[string]int               `json:"by_model"`
	AvgDurationMS float64                      `json:"avg_duration_ms"`
	Live          map[model.Mode]engine.Counts `json:"live"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	archived, err := s.store.GetTaskStats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	live := make(map[model.Mode]engine.Counts, 2)
	for _, mode := range []model.Mode{model.ModeClass, model.ModeStudent} {
		if sess, err := s.engine.Session(mode); err == nil {
			live[mode] = sess.Snapshot().Counts
		}
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Batches:       archived.Batches,
		Total:         archived.Total,
		ByStatus:      archived.CountByStatus,
		ByErrorKind:   archived.CountByErrorKind,
		ByModel:       archived.CountByModel,
		AvgDurationMS: archived.AvgDurationMS,
		Live:          live,
	})
}
