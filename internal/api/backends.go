package api

import (
	"net/http"

	"github.com/seantiz/examlens/internal/model"
)

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.remotes.List())
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	models := s.models
	if models == nil {
		models = []model.ModelConfig{}
	}
	s.writeJSON(w, http.StatusOK, models)
}
