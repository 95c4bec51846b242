package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/tokens"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
)

type contextKey string

const (
	PrincipalKey    contextKey = "principal"
	SessionTokenKey contextKey = "session_token"
	ImpersonatorKey contextKey = "impersonator"
)

// HeaderInternalToken authenticates service-to-service calls.
const HeaderInternalToken = "X-Internal-Token"

type TokenValidator interface {
	ValidateAccessToken(token string) (*tokens.Claims, error)
}

type AuthMiddleware struct {
	validator     TokenValidator
	internalToken string
}

func NewAuthMiddleware(validator TokenValidator, internalToken string) *AuthMiddleware {
	return &AuthMiddleware{
		validator:     validator,
		internalToken: internalToken,
	}
}

// RequireAuth validates the bearer token and stores the principal and its
// claimed session token in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := m.validator.ValidateAccessToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, tokens.ErrExpiredToken) {
				msg = "token expired"
			}
			httputil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}

		principal := &models.Principal{ID: claims.PrincipalID(), Role: models.Role(claims.Role)}
		ctx := context.WithValue(r.Context(), PrincipalKey, principal)
		ctx = context.WithValue(ctx, SessionTokenKey, claims.SessionID)
		if claims.Act != "" {
			ctx = context.WithValue(ctx, ImpersonatorKey, claims.Act)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects principals that are neither ADMIN nor SUPER_ADMIN.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || !principal.IsAdmin() {
			httputil.WriteError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireInternal guards endpoints called by other services. With no token
// configured every call is rejected.
func (m *AuthMiddleware) RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderInternalToken)
		if m.internalToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(m.internalToken)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*models.Principal)
	return p, ok && p != nil
}

func SessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(SessionTokenKey).(string)
	return token
}

// ImpersonatorFromContext returns the admin acting as the principal, if any.
func ImpersonatorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ImpersonatorKey).(string)
	return id
}

// Identify exposes the authenticated principal to the tracking pipeline.
func Identify(r *http.Request) (principalID, sessionToken string) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		principalID = p.ID
	}
	return principalID, SessionTokenFromContext(r.Context())
}
