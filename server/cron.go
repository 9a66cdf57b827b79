package server

import (
	"net/http"
	"time"

	"github.com/teranos/peterbot/pulse/schedule"
)

type cronNextRequest struct {
	Cron string `json:"cron"`
	From *int64 `json:"from"` // epoch ms; default now
}

type cronNextResponse struct {
	NextRunAt int64 `json:"nextRunAt"`
}

// handleCronNext previews the next firing of an expression in the scheduler's zone
func (s *Server) handleCronNext(w http.ResponseWriter, r *http.Request) {
	var req cronNextRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	from := s.now()
	if req.From != nil {
		from = time.UnixMilli(*req.From)
	}

	next, err := schedule.CronNext(req.Cron, from.In(s.deps.Schedules.Location()))
	if err != nil {
		s.writeWrappedError(w, r, err, "invalid cron expression")
		return
	}
	writeJSON(w, http.StatusOK, cronNextResponse{NextRunAt: next.UnixMilli()})
}
