package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/async"
)

type createJobRequest struct {
	Type               string `json:"type"`
	Input              string `json:"input"`
	ConversationTarget string `json:"conversationTarget"`
}

type listJobsResponse struct {
	Jobs  []*async.Job `json:"jobs"`
	Count int          `json:"count"`
}

// handleListJobs lists jobs newest first, optionally filtered by ?status= and capped by ?limit=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var filter async.JobFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		if !async.IsValidStatus(raw) {
			s.writeWrappedError(w, r, errors.NewValidationError("unknown job status %q", raw), "invalid status")
			return
		}
		status := async.JobStatus(raw)
		filter.Status = &status
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeWrappedError(w, r, err, "invalid limit")
		return
	}
	filter.Limit = limit

	jobs, err := s.deps.Jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeWrappedError(w, r, err, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs, Count: len(jobs)})
}

// handleCreateJob enqueues a background job directly, bypassing the inline path
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Type == "" {
		req.Type = string(async.JobTypeTask)
	}

	job, err := s.deps.Jobs.CreateJob(r.Context(), async.JobType(req.Type), req.Input, req.ConversationTarget, nil)
	if err != nil {
		s.writeWrappedError(w, r, err, "failed to create job")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Job created via API",
		logger.FieldJobID, job.ID,
		"type", job.Type,
		logger.FieldTarget, job.ConversationTarget)
	writeJSON(w, http.StatusCreated, job)
}

// handleGetJob returns one job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r = r.WithContext(logger.WithJobID(r.Context(), id))

	job, err := s.deps.Jobs.GetJobByID(r.Context(), id)
	if err != nil {
		s.writeWrappedError(w, r, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
