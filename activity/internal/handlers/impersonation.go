package handlers

import (
	"net/http"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/middleware"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
)

func (h *Handler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	var req models.StartImpersonationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	req.IPAddress = httputil.GetClientIP(r)
	req.UserAgent = r.UserAgent()

	admin, _ := middleware.PrincipalFromContext(r.Context())
	res, err := h.impersonation.Start(r.Context(), admin, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, models.StartImpersonationResponse{
		AccessToken:        res.AccessToken,
		RefreshToken:       res.RefreshToken,
		ImpersonationLogID: res.ImpersonationLogID,
		ExpiresAt:          res.ExpiresAt,
		TokenType:          "Bearer",
	})
}

// EndImpersonation ends the impersonation bound to the caller's session.
func (h *Handler) EndImpersonation(w http.ResponseWriter, r *http.Request) {
	err := h.impersonation.End(r.Context(), middleware.SessionTokenFromContext(r.Context()), models.EndImpersonationRequest{
		IPAddress: httputil.GetClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListImpersonations supports ?admin_id=, ?status= and pagination.
func (h *Handler) ListImpersonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.ImpersonationStatus(q.Get("status"))
	switch status {
	case "", models.ImpersonationActive, models.ImpersonationEnded, models.ImpersonationExpired:
	default:
		httputil.WriteError(w, http.StatusBadRequest, "status must be ACTIVE, ENDED or EXPIRED")
		return
	}

	p := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	page, err := h.impersonation.History(r.Context(), models.ImpersonationFilter{
		AdminPrincipalID: q.Get("admin_id"),
		Status:           status,
		Limit:            p.Limit,
		Offset:           p.Offset(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p.Total = page.Total
	httputil.WriteList(w, page.Items, p)
}
