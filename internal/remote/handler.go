package remote

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/examlens/internal/model"
)

const maxJobBodySize = 10 << 20

// NewHandler serves svc with the JSON protocol HTTPService speaks. The test
// server mounts it to stand in for a real queue.
func NewHandler(svc JobService) http.Handler {
	h := &jobHandler{svc: svc}
	r := chi.NewRouter()
	r.Post("/api/jobs", h.submit)
	r.Post("/api/jobs/status", h.statusBatch)
	r.Post("/api/jobs/stop", h.stop)
	r.Get("/api/jobs/{id}", h.status)
	return r
}

type jobHandler struct {
	svc JobService
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJobJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *jobHandler) submit(w http.ResponseWriter, r *http.Request) {
	var p Payload
	r.Body = http.MaxBytesReader(w, r.Body, maxJobBodySize)
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJobJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	handle, err := h.svc.Submit(r.Context(), p)
	if err != nil {
		writeJobJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		return
	}
	writeJobJSON(w, http.StatusAccepted, submitResponse{JobID: handle})
}

func (h *jobHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrJobNotFound) {
		writeJobJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		writeJobJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJobJSON(w, http.StatusOK, st)
}

func (h *jobHandler) statusBatch(w http.ResponseWriter, r *http.Request) {
	var req handlesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJobJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}

	resp := batchStatusResponse{}
	if bs, ok := h.svc.(BatchStatusService); ok {
		statuses, err := bs.GetStatusBatch(r.Context(), req.JobIDs)
		if err != nil {
			writeJobJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
			return
		}
		resp.Statuses = statuses
	} else {
		resp.Statuses = make(map[string]model.RemoteStatus, len(req.JobIDs))
		for _, id := range req.JobIDs {
			st, err := h.svc.GetStatus(r.Context(), id)
			if err != nil {
				continue
			}
			resp.Statuses[id] = st
		}
	}
	writeJobJSON(w, http.StatusOK, resp)
}

func (h *jobHandler) stop(w http.ResponseWriter, r *http.Request) {
	var req handlesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJobJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if err := h.svc.Stop(r.Context(), req.JobIDs); err != nil {
		writeJobJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
