package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Skipper exempts a request from authentication, e.g. health and metrics
// endpoints scraped without credentials.
type Skipper func(r *http.Request) bool

// Middleware validates bearer tokens and stores the resulting claims on the
// request context for the API handlers.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware with optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap wraps next with token validation. Rejections carry the same JSON
// error shape the API handlers use.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.authenticate(r)
		if err != nil {
			m.reject(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m Middleware) authenticate(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return nil, ErrInvalidToken
	}
	return Parse(token, m.Config)
}

// reject writes a 401 without echoing parser detail back to the caller.
func (m Middleware) reject(w http.ResponseWriter, err error) {
	code, message := "invalid_token", "invalid bearer token"
	if errors.Is(err, ErrMissingToken) {
		code, message = "missing_token", "missing bearer token"
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="healthsync"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}
