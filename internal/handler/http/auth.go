package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrForbidden    = errors.New("token subject does not own this user id")
)

var ownerParams = []string{"uid", "user_id"}

// Authenticator checks HS256 bearer tokens whose subject must match the
// user id a request acts on.
type Authenticator struct {
	secret []byte
	issuer string
}

// Issue signs a token for subject. A non-positive ttl yields a token without expiry.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Subject validates a raw Authorization header value and returns the token subject.
func (a *Authenticator) Subject(header string) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if len(raw) == 0 {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if len(a.issuer) > 0 {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid || len(claims.Subject) == 0 {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims.Subject, nil
}

// Middleware rejects requests without a valid token, and requests where any
// uid or user_id query value differs from the token subject.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.Subject(r.Header.Get("Authorization"))
		if err != nil {
			slog.WarnContext(r.Context(), "unauthenticated request", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": err.Error()})
			return
		}

		if owner, ok := foreignOwner(r, subject); !ok {
			slog.WarnContext(r.Context(), "forbidden request", "path", r.URL.Path, "user_id", owner, "subject", subject)
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": ErrForbidden.Error()})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// foreignOwner reports the first owner parameter value that differs from
// subject. Every value of every owner parameter must match, since handlers
// read different ones.
func foreignOwner(r *http.Request, subject string) (string, bool) {
	q := r.URL.Query()

	for _, key := range ownerParams {
		for _, owner := range q[key] {
			if owner != subject {
				return owner, false
			}
		}
	}

	return "", true
}

func NewAuthenticator(secret string, issuer string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
	}
}
