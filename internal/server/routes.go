package server

import (
	"net/http"
	"strings"

	"github.com/choisimo/newsinsight-monitor/internal/handlers"
)

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Job collection
	s.router.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.app.JobHandler.StartJobHandler(w, r)
		case http.MethodGet:
			s.app.JobHandler.ListJobsHandler(w, r)
		default:
			handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Individual jobs: /api/jobs/{id}, /api/jobs/{id}/cancel, /api/jobs/{id}/stream
	s.router.HandleFunc("/api/jobs/", s.routeJob)

	// Real-time gateway
	s.router.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Service endpoints
	s.router.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	s.router.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	s.router.HandleFunc("/api/refresh", s.app.APIHandler.RefreshHandler)

	// Catch-all for unknown API paths
	s.router.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)
}

// routeJob dispatches /api/jobs/{id} and its sub-resources
func (s *Server) routeJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if rest == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch {
	case strings.HasSuffix(rest, "/stream"):
		s.app.SSEHandler.StreamJobHandler(w, r)
	case strings.HasSuffix(rest, "/cancel"):
		s.app.JobHandler.CancelJobHandler(w, r)
	case strings.Contains(rest, "/"):
		s.app.APIHandler.NotFoundHandler(w, r)
	default:
		switch r.Method {
		case http.MethodGet:
			s.app.JobHandler.GetJobHandler(w, r)
		case http.MethodDelete:
			s.app.JobHandler.UntrackJobHandler(w, r)
		default:
			handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}
