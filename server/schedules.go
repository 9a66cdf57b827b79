package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/schedule"
)

type createScheduleRequest struct {
	Description     string `json:"description"`
	NaturalSchedule string `json:"naturalSchedule"`
	ParsedCron      string `json:"parsedCron"`
	Prompt          string `json:"prompt"`
	Enabled         *bool  `json:"enabled"` // default true
}

type updateScheduleRequest struct {
	Enabled *bool `json:"enabled"`
}

type listSchedulesResponse struct {
	Schedules []*schedule.Schedule `json:"schedules"`
	Count     int                  `json:"count"`
}

// handleListSchedules lists all schedules, enabled or not
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.deps.Schedules.List(r.Context())
	if err != nil {
		s.writeWrappedError(w, r, err, "failed to list schedules")
		return
	}
	if scheds == nil {
		scheds = []*schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, listSchedulesResponse{Schedules: scheds, Count: len(scheds)})
}

// handleCreateSchedule validates the cron expression and stores the schedule
// with its first NextRunAt
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	sched := &schedule.Schedule{
		Description:     req.Description,
		NaturalSchedule: req.NaturalSchedule,
		ParsedCron:      req.ParsedCron,
		Prompt:          req.Prompt,
		Enabled:         req.Enabled == nil || *req.Enabled,
	}
	if err := s.deps.Schedules.Create(r.Context(), sched); err != nil {
		s.writeWrappedError(w, r, err, "failed to create schedule")
		return
	}

	logger.AddCronSymbol(s.logger).Infow("Schedule created via API",
		logger.FieldScheduleID, sched.ID,
		"cron", sched.ParsedCron,
		"next_run_at", sched.NextRunAt)
	writeJSON(w, http.StatusCreated, sched)
}

// handleGetSchedule returns one schedule
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeWrappedError(w, r, err, "failed to get schedule")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleUpdateSchedule pauses or resumes a schedule
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Enabled == nil {
		s.writeWrappedError(w, r, errors.NewValidationError("enabled is required"), "invalid update")
		return
	}

	sched, err := s.deps.Schedules.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		s.writeWrappedError(w, r, err, "failed to update schedule")
		return
	}

	logger.AddCronSymbol(s.logger).Infow("Schedule updated via API",
		logger.FieldScheduleID, id,
		"enabled", sched.Enabled)
	writeJSON(w, http.StatusOK, sched)
}

// handleDeleteSchedule removes a schedule; its jobs are kept
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Schedules.Delete(r.Context(), id); err != nil {
		s.writeWrappedError(w, r, err, "failed to delete schedule")
		return
	}

	logger.AddCronSymbol(s.logger).Infow("Schedule deleted via API", logger.FieldScheduleID, id)
	w.WriteHeader(http.StatusNoContent)
}
