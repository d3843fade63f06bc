package ws

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

var ErrUnauthorized = errors.New("unauthorized")

type HubOption func(*Hub)

// WithJWTSecret makes the hub accept only HS256 tokens signed with secret
// that carry an expiry. The static auth token is ignored when set.
func WithJWTSecret(secret []byte) HubOption {
	return func(h *Hub) { h.jwtSecret = secret }
}

// WithTitleRate caps how many titles per second each page may send; titles
// over the limit are answered with a RATE_LIMITED error frame.
func WithTitleRate(perSecond float64, burst int) HubOption {
	return func(h *Hub) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			h.titleRate = rate.Limit(perSecond)
			h.titleBurst = burst
		}
	}
}

// bearer reads the page token from the Authorization header, falling back to
// the token query parameter since browsers cannot set websocket headers.
func bearer(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return r.URL.Query().Get("token")
}

// authorize returns the page subject, empty for static-token auth.
func (h *Hub) authorize(r *http.Request) (string, error) {
	token := bearer(r)
	if len(h.jwtSecret) > 0 {
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
			return h.jwtSecret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return claims.Subject, nil
	}
	if h.authToken != "" && token != h.authToken {
		return "", ErrUnauthorized
	}
	return "", nil
}
