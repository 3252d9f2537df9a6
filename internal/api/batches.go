package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/store"
)

// listBatchesResponse wraps the paginated list response.
type listBatchesResponse struct {
	Batches []*store.BatchRecord `json:"batches"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

type batchTasksResponse struct {
	BatchID string       `json:"batch_id"`
	Tasks   []model.Task `json:"tasks"`
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	batches, total, err := s.store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list batches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if batches == nil {
		batches = []*store.BatchRecord{}
	}

	s.writeJSON(w, http.StatusOK, listBatchesResponse{
		Batches: batches,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := s.store.GetBatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.Error("get batch", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetBatchTasks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tasks, err := s.store.GetBatchTasks(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.Error("get batch tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get batch tasks")
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	s.writeJSON(w, http.StatusOK, batchTasksResponse{BatchID: id, Tasks: tasks})
}
