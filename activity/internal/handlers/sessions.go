package handlers

import (
	"net/http"
	"strconv"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/middleware"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

// RegisterSession is called by the authentication service after a login.
func (h *Handler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = httputil.GetClientIP(r)
	}

	session, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sessionID := session.ID
	if _, err := h.recorder.Log(r.Context(), &models.ActivityEvent{
		PrincipalID:    session.PrincipalID,
		SessionID:      &sessionID,
		ActivityType:   models.ActivityLogin,
		Description:    "User login",
		IPAddress:      session.IPAddress,
		UserAgent:      session.UserAgent,
		RequestPath:    r.URL.Path,
		RequestMethod:  r.Method,
		ResponseStatus: http.StatusCreated,
		IsSuccessful:   true,
		Metadata: map[string]any{
			"rememberMe": session.RememberMe,
			"deviceType": session.DeviceType,
		},
	}); err != nil {
		h.logger.WarnContext(r.Context(), "failed to record login", logging.SessionID(session.ID), logging.Error(err))
	}

	httputil.WriteJSON(w, http.StatusCreated, session)
}

// UpsertPrincipal keeps the principal directory in sync with the
// authentication service.
func (h *Handler) UpsertPrincipal(w http.ResponseWriter, r *http.Request) {
	var p models.Principal
	if err := httputil.DecodeJSON(r, &p); err != nil {
		badRequest(w, err)
		return
	}
	p.ID = r.PathValue("id")

	switch p.Role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleUser:
	default:
		httputil.WriteError(w, http.StatusBadRequest, "role must be SUPER_ADMIN, ADMIN or USER")
		return
	}

	if err := h.principals.UpsertPrincipal(r.Context(), &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// ListSessions returns the caller's sessions. ?active=true limits the list
// to ACTIVE sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	list, err := h.sessions.ListForPrincipal(r.Context(), principal.ID, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Session{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": list})
}

// Logout ends the caller's current session. Logging out of an impersonation
// session ends the impersonation.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionTokenFromContext(r.Context())

	session, err := h.sessions.FindByToken(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if session.IsImpersonation() {
		err = h.impersonation.End(r.Context(), token, models.EndImpersonationRequest{
			IPAddress: httputil.GetClientIP(r),
			UserAgent: r.UserAgent(),
		})
	} else {
		err = h.sessions.Terminate(r.Context(), token, models.SessionLoggedOut)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll ends every session of the caller, optionally keeping the
// current one.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	var req models.LogoutAllRequest
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			badRequest(w, err)
			return
		}
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	except := ""
	if req.KeepCurrent {
		except = middleware.SessionTokenFromContext(r.Context())
	}

	n, err := h.sessions.TerminateAllForPrincipal(r.Context(), principal.ID, except)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.CountResponse{Count: n})
}
