package handlers

import (
	"context"
	"net/http"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/impersonation"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/recorder"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sessions"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/stats"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	sessions      *sessions.Store
	recorder      *recorder.Recorder
	impersonation *impersonation.Controller
	stats         *stats.Aggregator
	principals    repository.PrincipalRepository
	health        Pinger
	logger        *logging.Logger
}

type Deps struct {
	Sessions      *sessions.Store
	Recorder      *recorder.Recorder
	Impersonation *impersonation.Controller
	Stats         *stats.Aggregator
	Principals    repository.PrincipalRepository
	Health        Pinger
	Logger        *logging.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		sessions:      d.Sessions,
		recorder:      d.Recorder,
		impersonation: d.Impersonation,
		stats:         d.Stats,
		principals:    d.Principals,
		health:        d.Health,
		logger:        logging.OrDefault(d.Logger).Component("handlers"),
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", logging.Error(err))
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps error kinds to status codes. Unclassified errors are
// logged and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := models.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			logging.Method(r.Method), logging.Path(r.URL.Path), logging.Error(err))
		httputil.WriteError(w, status, "internal server error")
		return
	}
	httputil.WriteError(w, status, err.Error())
}

func badRequest(w http.ResponseWriter, err error) {
	httputil.WriteError(w, http.StatusBadRequest, err.Error())
}
