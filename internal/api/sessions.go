package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/examlens/internal/config"
	"github.com/seantiz/examlens/internal/engine"
	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/normalize"
	"github.com/seantiz/examlens/internal/progress"
	"github.com/seantiz/examlens/internal/resolve"
)

// normalizeRequest is the JSON body for POST /v1/normalize.
type normalizeRequest struct {
	Mode    string             `json:"mode"`
	Columns []string           `json:"columns"`
	Rows    []normalize.Record `json:"rows"`
}

// startBatchRequest is the JSON body for POST /v1/sessions/{mode}/batches.
type startBatchRequest struct {
	Columns      []string           `json:"columns"`
	Rows         []normalize.Record `json:"rows"`
	Target       string             `json:"target"`
	GroupByClass bool               `json:"group_by_class"`
	// Models overrides the server's configured models for this batch.
	Models []model.ModelConfig `json:"models"`
}

type startBatchResponse struct {
	*engine.BatchSummary
	Warnings []string `json:"warnings,omitempty"`
}

type cancelResponse struct {
	Cancelled int `json:"cancelled"`
}

// progressResponse renders a progress.Snapshot with millisecond durations.
type progressResponse struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	Percent     float64 `json:"percent"`
	ElapsedMS   int64   `json:"elapsed_ms"`
	AverageMS   int64   `json:"average_ms"`
	ETAMS       *int64  `json:"eta_ms,omitempty"`
	Calculating bool    `json:"calculating"`
	Done        bool    `json:"done"`
}

func newProgressResponse(p progress.Snapshot) progressResponse {
	out := progressResponse{
		Total:       p.Total,
		Completed:   p.Completed,
		Percent:     p.Percent(),
		ElapsedMS:   p.Elapsed.Milliseconds(),
		AverageMS:   p.Average.Milliseconds(),
		Calculating: p.Calculating,
		Done:        p.Done,
	}
	if p.ETA != nil {
		ms := p.ETA.Milliseconds()
		out.ETAMS = &ms
	}
	return out
}

type tasksResponse struct {
	Mode     model.Mode       `json:"mode"`
	BatchID  string           `json:"batch_id,omitempty"`
	Target   string           `json:"target,omitempty"`
	Running  bool             `json:"running"`
	Counts   engine.Counts    `json:"counts"`
	Progress progressResponse `json:"progress"`
	Tasks    []model.Task     `json:"tasks"`
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tbl, err := normalize.Normalize(normalize.RawTable{Columns: req.Columns, Rows: req.Rows}, mode)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, tbl)
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var req startBatchRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	target, err := resolve.ParseTarget(req.Target)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	models := req.Models
	if len(models) == 0 {
		models = s.models
	}
	if err := config.ValidateModels(models); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tbl, err := normalize.Normalize(normalize.RawTable{Columns: req.Columns, Rows: req.Rows}, sess.Mode())
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	subjects, err := resolve.Resolve(tbl, resolve.Options{Target: target, GroupByClass: req.GroupByClass})
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sum, err := sess.StartBatch(engine.BatchRequest{Target: string(target), Subjects: subjects, Models: models})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, startBatchResponse{BatchSummary: sum, Warnings: tbl.Warnings})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	tasks := snap.Tasks
	if tasks == nil {
		tasks = []model.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasksResponse{
		Mode:     snap.Mode,
		BatchID:  snap.BatchID,
		Target:   snap.Target,
		Running:  snap.Running,
		Counts:   snap.Counts,
		Progress: newProgressResponse(snap.Progress),
		Tasks:    tasks,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	t, err := sess.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	t, err := sess.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	n, err := sess.Cancel(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cancelResponse{Cancelled: n})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, newProgressResponse(sess.Progress()))
}
