package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxJobBodySize = 10 << 20 // 10MB

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Manager *Manager
	Token   string
}

// NewHandler builds the jobs API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/v1/jobs", handleSubmitJob(deps))
	r.Get("/v1/jobs/{id}", handleGetJob(deps))
	r.Delete("/v1/jobs/{id}", handleCancelJob(deps))

	return r
}

func handleSubmitJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJobBodySize)
		defer r.Body.Close()

		var spec JobSpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		job, err := deps.Manager.Start(spec)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"jobId":  job.ID,
			"status": job.Status,
		})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, ok := deps.Manager.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "no such job: %s", id)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !deps.Manager.Cancel(id) {
			httpError(w, http.StatusNotFound, "not_found_error", "no such job: %s", id)
			return
		}
		job, _ := deps.Manager.Get(id)
		writeJSON(w, http.StatusOK, job)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
