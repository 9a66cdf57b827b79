package server

import (
	"net/http"
	"time"

	"github.com/teranos/peterbot/ai/tracker"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/async"
)

// usageWindow is how far back /health summarises model calls
const usageWindow = 24 * time.Hour

type healthResponse struct {
	Status    string                 `json:"status"`
	UptimeMS  int64                  `json:"uptimeMs"`
	System    async.SystemMetrics    `json:"system"`
	Scheduler map[string]interface{} `json:"scheduler,omitempty"`
	AIUsage   *tracker.UsageStats    `json:"aiUsage,omitempty"`
}

// handleHealth reports job counts, host memory and scheduler state.
// A failing job store turns the status to "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		UptimeMS: s.now().Sub(s.startedAt).Milliseconds(),
	}
	status := http.StatusOK

	sys, err := async.GetSystemMetrics(r.Context(), s.deps.Jobs)
	resp.System = sys
	if err != nil {
		s.logger.Warnw("Health check: job counts unavailable", logger.FieldError, err)
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	if s.deps.Ticker != nil {
		resp.Scheduler = s.deps.Ticker.GetStats()
	}

	if s.deps.Usage != nil {
		stats, err := s.deps.Usage.GetUsageStats(r.Context(), s.now().Add(-usageWindow))
		if err != nil {
			s.logger.Debugw("Health check: usage stats unavailable", logger.FieldError, err)
		} else {
			resp.AIUsage = stats
		}
	}

	writeJSON(w, status, resp)
}
