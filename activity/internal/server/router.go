package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/handlers"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/middleware"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/pipeline"
	commonmw "github.com/telhawk-systems/telhawk-activity/common/middleware"
)

// NewRouter registers every route. API routes run through authentication
// and the tracking pipeline, which requires an active session; admin routes
// additionally require an admin role, checked after tracking so denied
// attempts are recorded.
func NewRouter(h *handlers.Handler, auth *middleware.AuthMiddleware, p *pipeline.Pipeline) http.Handler {
	mux := http.NewServeMux()

	tracked := func(hf http.HandlerFunc) http.Handler {
		return commonmw.Chain(hf, auth.RequireAuth, p.Middleware(middleware.Identify, true))
	}
	admin := func(hf http.HandlerFunc) http.Handler {
		return commonmw.Chain(hf, auth.RequireAuth, p.Middleware(middleware.Identify, true), auth.RequireAdmin)
	}

	// Service-to-service endpoints
	mux.Handle("POST /internal/v1/sessions", auth.RequireInternal(http.HandlerFunc(h.RegisterSession)))
	mux.Handle("PUT /internal/v1/principals/{id}", auth.RequireInternal(http.HandlerFunc(h.UpsertPrincipal)))

	// Session self-service
	mux.Handle("GET /api/v1/sessions", tracked(h.ListSessions))
	mux.Handle("POST /api/v1/sessions/logout", tracked(h.Logout))
	mux.Handle("POST /api/v1/sessions/logout-all", tracked(h.LogoutAll))

	// Impersonation. The controller enforces SUPER_ADMIN on start; end is
	// called from the impersonated session.
	mux.Handle("POST /api/v1/admin/impersonation/start", tracked(h.StartImpersonation))
	mux.Handle("POST /api/v1/admin/impersonation/end", tracked(h.EndImpersonation))
	mux.Handle("GET /api/v1/admin/impersonation", admin(h.ListImpersonations))

	// Admin console
	mux.Handle("GET /api/v1/admin/activity", admin(h.ListActivity))
	mux.Handle("GET /api/v1/admin/stats/overview", admin(h.StatsOverview))
	mux.Handle("GET /api/v1/admin/stats/sessions", admin(h.SessionStats))
	mux.Handle("GET /api/v1/admin/stats/activity", admin(h.ActivityStats))

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return commonmw.RequestID(mux)
}
