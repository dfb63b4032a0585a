// Package auth resolves the acting user of a request. Tokens are issued
// elsewhere; this package only verifies them.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type contextKey struct{}

func WithActor(ctx context.Context, a prescriptions.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFrom(ctx context.Context) (prescriptions.Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(prescriptions.Actor)
	return a, ok
}

// Claims carries the user id in sub and the MedLink role.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// Authenticator extracts the actor from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (prescriptions.Actor, error)
}

type JWT struct {
	Secret []byte
	Issuer string
}

func (j JWT) Authenticate(r *http.Request) (prescriptions.Actor, error) {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return prescriptions.Actor{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(*jwt.Token) (interface{}, error) {
		return j.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return prescriptions.Actor{}, ErrUnauthenticated
	}
	return actor(claims.Subject, claims.Role, claims.Email)
}

// Header trusts X-User-ID and X-Role. Development only.
type Header struct{}

func (Header) Authenticate(r *http.Request) (prescriptions.Actor, error) {
	return actor(r.Header.Get("X-User-ID"), r.Header.Get("X-Role"), r.Header.Get("X-User-Email"))
}

func actor(sub, role, email string) (prescriptions.Actor, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(sub), 10, 64)
	if err != nil || id <= 0 {
		return prescriptions.Actor{}, ErrUnauthenticated
	}
	rl, err := prescriptions.ParseRole(strings.ToLower(strings.TrimSpace(role)))
	if err != nil {
		return prescriptions.Actor{}, ErrUnauthenticated
	}
	return prescriptions.Actor{ID: id, Role: rl, Email: email}, nil
}

// Middleware rejects requests without a valid actor with a JSON 401.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			act, err := a.Authenticate(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "authentication required"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), act)))
		})
	}
}
