package handlers

import (
	"net/http"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
	"github.com/gorilla/mux"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	dispatcher *jobs.Dispatcher
	store      jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(dispatcher *jobs.Dispatcher, store jobs.JobStore) *JobsHandler {
	return &JobsHandler{
		dispatcher: dispatcher,
		store:      store,
	}
}

// TriggerJob handles POST /api/jobs/{type}
func (h *JobsHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["type"]
	jobType, ok := jobs.ParseJobType(name)
	if !ok {
		middleware.WriteAppError(w, r, apperr.Validation("Unknown job type: %s", name))
		return
	}

	run, err := h.dispatcher.Trigger(r.Context(), jobType, "api")
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("job_id", run.JobID).
		Str("job_type", string(run.Type)).
		Msg("Job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, run)
}

// GetJob handles GET /api/jobs/{jobId}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}
	if s := query.Get("type"); s != "" {
		t, ok := jobs.ParseJobType(s)
		if !ok {
			middleware.WriteAppError(w, r, apperr.Validation("Unknown job type: %s", s))
			return
		}
		filter.Type = t
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		middleware.WriteAppError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
