package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/seantiz/examlens/internal/model"
	"github.com/seantiz/examlens/internal/store"
)

func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	var o model.Override
	if !s.decodeJSON(w, r, &o) {
		return
	}
	if _, err := model.ParseMode(string(o.Mode)); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o.SubjectID = strings.TrimSpace(o.SubjectID)
	o.ModelLabel = strings.TrimSpace(o.ModelLabel)
	if o.SubjectID == "" || o.ModelLabel == "" {
		s.writeError(w, http.StatusBadRequest, "subject_id and model_label are required")
		return
	}

	if err := s.store.UpsertOverride(r.Context(), o); err != nil {
		s.logger.Error("upsert override", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store override")
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	mode, err := model.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	overrides, err := s.store.ListOverrides(r.Context(), mode)
	if err != nil {
		s.logger.Error("list overrides", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	if overrides == nil {
		overrides = []model.Override{}
	}
	s.writeJSON(w, http.StatusOK, overrides)
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := model.ParseMode(q.Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.store.DeleteOverride(r.Context(), mode, q.Get("subject_id"), q.Get("model_label"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "override not found")
		return
	}
	if err != nil {
		s.logger.Error("delete override", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete override")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
