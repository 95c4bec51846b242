package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
)

// Identify returns the principal and claimed session token of a request.
// Empty strings mean anonymous.
type Identify func(r *http.Request) (principalID, sessionToken string)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware tracks every request passing through next. When
// requireSession is set, requests without a valid session get 401.
func (p *Pipeline) Middleware(identify Identify, requireSession bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, token := identify(r)
			t, err := p.Begin(r.Context(), TrackedRequest{
				PrincipalID:          principalID,
				SessionToken:         token,
				Method:               r.Method,
				Path:                 r.URL.Path,
				Header:               r.Header,
				RemoteAddr:           r.RemoteAddr,
				RequireActiveSession: requireSession,
			})
			if err != nil {
				httputil.WriteError(w, models.HTTPStatus(err), err.Error())
				p.Complete(r.Context(), t, models.HTTPStatus(err), err)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if v := recover(); v != nil {
					p.Complete(r.Context(), t, http.StatusInternalServerError, panicError(v))
					panic(v)
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				p.Complete(r.Context(), t, status, nil)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

func panicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return errors.New(fmt.Sprint("panic: ", v))
}
