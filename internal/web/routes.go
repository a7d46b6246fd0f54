package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	statusHandler := handlers.NewStatusHandler(s.deps.Status, s.deps.Tracker, s.deps.Events)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Tracker, s.deps.Audit, s.deps.Log)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.deps.Log)
	healthHandler := handlers.NewHealthHandler(s.deps.Database, s.deps.Log)

	s.router.Get("/api/v1/health", healthHandler.Get)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/status", statusHandler.Get)
			r.Get("/attendance", attendanceHandler.List)
		})

		// Long-lived, no request timeout
		r.Get("/events", eventsHandler.Stream)
	})

	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
}
