package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const issuer = "telhawk-activity"

// Claims carry the principal, its role and the opaque session token (sid)
// the access token is bound to. Act is set on impersonation tokens and
// names the admin acting as the subject.
type Claims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	Act       string `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the subject.
func (c *Claims) PrincipalID() string { return c.Subject }

// TokenPair is what a login or impersonation hands back to the client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionToken string
	ExpiresAt    time.Time
}

// IssueOptions tune a single issuance.
type IssueOptions struct {
	TTL          time.Duration
	Impersonator string
}

type TokenGenerator struct {
	accessSecret []byte
	accessTTL    time.Duration
	now          func() time.Time
}

func NewTokenGenerator(accessSecret string, accessTTL time.Duration) *TokenGenerator {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &TokenGenerator{
		accessSecret: []byte(accessSecret),
		accessTTL:    accessTTL,
		now:          time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (tg *TokenGenerator) WithClock(now func() time.Time) *TokenGenerator {
	tg.now = now
	return tg
}

// IssueTokenPair mints a fresh session token, a refresh token and an access
// token bound to that session.
func (tg *TokenGenerator) IssueTokenPair(principalID, role string, opts IssueOptions) (*TokenPair, error) {
	sessionToken, err := tg.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	refreshToken, err := tg.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = tg.accessTTL
	}
	expiresAt := tg.now().Add(ttl)

	access, err := tg.GenerateAccessToken(principalID, role, sessionToken, opts.Impersonator, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		SessionToken: sessionToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (tg *TokenGenerator) GenerateAccessToken(principalID, role, sessionToken, impersonator string, expiresAt time.Time) (string, error) {
	now := tg.now()
	claims := Claims{
		Role:      role,
		SessionID: sessionToken,
		Act:       impersonator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tg.accessSecret)
}

// GenerateOpaqueToken returns 32 random bytes, base64url encoded.
func (tg *TokenGenerator) GenerateOpaqueToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (tg *TokenGenerator) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tg.accessSecret, nil
	}, jwt.WithTimeFunc(tg.now), jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
