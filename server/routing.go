package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/teranos/peterbot/logger"
)

// maxRequestBodySize caps API request bodies (1 MB)
const maxRequestBodySize = 1 << 20

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	r.Get("/ws/jobs", s.handleJobStream)

	r.Group(func(r chi.Router) {
		r.Use(limitBody)

		r.Post("/api/chat", s.handleChat)

		r.Get("/api/jobs", s.handleListJobs)
		r.Post("/api/jobs", s.handleCreateJob)
		r.Get("/api/jobs/{id}", s.handleGetJob)

		r.Get("/api/schedules", s.handleListSchedules)
		r.Post("/api/schedules", s.handleCreateSchedule)
		r.Get("/api/schedules/{id}", s.handleGetSchedule)
		r.Patch("/api/schedules/{id}", s.handleUpdateSchedule)
		r.Delete("/api/schedules/{id}", s.handleDeleteSchedule)

		r.Post("/api/cron/next", s.handleCronNext)
	})

	return r
}

// requestLogger tags the request context with its ID for handler logs, then
// logs each request with its status and duration. Health and metrics scrapes
// log at debug.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithComponent(r.Context(), "http")
		ctx = logger.WithRequestID(ctx, middleware.GetReqID(ctx))
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []interface{}{
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		}
		log := logger.FromContext(ctx, s.logger)
		switch {
		case status >= http.StatusInternalServerError:
			log.Warnw("HTTP request", fields...)
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			log.Debugw("HTTP request", fields...)
		default:
			log.Infow("HTTP request", fields...)
		}
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		next.ServeHTTP(w, r)
	})
}
