package handlers

import (
	"net/http"
	"time"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
)

// ListActivity supports ?principal_id=, ?type=, ?start=, ?end= (RFC 3339)
// and pagination. Results are newest first.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	activityType := models.ActivityType(q.Get("type"))
	if activityType != "" && !activityType.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "unknown activity type")
		return
	}

	tr, ok := parseRange(w, r, time.Time{})
	if !ok {
		return
	}

	p := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	page, err := h.recorder.Query(r.Context(), models.ActivityFilter{
		PrincipalID:  q.Get("principal_id"),
		ActivityType: activityType,
		Start:        tr.Start,
		End:          tr.End,
		Limit:        p.Limit,
		Offset:       p.Offset(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p.Total = page.Total
	httputil.WriteList(w, page.Items, p)
}

func (h *Handler) StatsOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.stats.Overview(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ov)
}

// SessionStats defaults to the last 30 days.
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	tr, ok := parseRange(w, r, time.Now().UTC().AddDate(0, 0, -30))
	if !ok {
		return
	}
	st, err := h.stats.Sessions(r.Context(), tr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// ActivityStats defaults to the last 7 days.
func (h *Handler) ActivityStats(w http.ResponseWriter, r *http.Request) {
	tr, ok := parseRange(w, r, time.Now().UTC().AddDate(0, 0, -7))
	if !ok {
		return
	}
	st, err := h.stats.Activity(r.Context(), tr.Start, tr.End)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func parseRange(w http.ResponseWriter, r *http.Request, defaultStart time.Time) (models.TimeRange, bool) {
	start, err := httputil.ParseTimeParam(r.URL.Query().Get("start"))
	if err != nil {
		badRequest(w, err)
		return models.TimeRange{}, false
	}
	end, err := httputil.ParseTimeParam(r.URL.Query().Get("end"))
	if err != nil {
		badRequest(w, err)
		return models.TimeRange{}, false
	}
	if start.IsZero() {
		start = defaultStart
	}
	return models.TimeRange{Start: start, End: end}, true
}
