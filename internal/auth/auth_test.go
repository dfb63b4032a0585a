package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-unit-tests-only")

func sign(t *testing.T, claims Claims, key []byte, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:  "pharmacy",
		Email: "desk@pharma.example",
	}
}

func TestJWT_Authenticate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, validClaims(), testSecret, jwt.SigningMethodHS256))

	a, err := JWT{Secret: testSecret}.Authenticate(req)
	require.NoError(t, err)
	assert.Equal(t, prescriptions.Actor{ID: 42, Role: prescriptions.RolePharmacy, Email: "desk@pharma.example"}, a)
}

func TestJWT_Rejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	badRole := validClaims()
	badRole.Role = "system"
	badSub := validClaims()
	badSub.Subject = "abc"

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"wrong key", "Bearer " + sign(t, validClaims(), []byte("other"), jwt.SigningMethodHS256)},
		{"expired", "Bearer " + sign(t, expired, testSecret, jwt.SigningMethodHS256)},
		{"system role", "Bearer " + sign(t, badRole, testSecret, jwt.SigningMethodHS256)},
		{"non numeric subject", "Bearer " + sign(t, badSub, testSecret, jwt.SigningMethodHS256)},
		{"hs512", "Bearer " + sign(t, validClaims(), testSecret, jwt.SigningMethodHS512)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, err := JWT{Secret: testSecret}.Authenticate(req)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestMiddleware(t *testing.T) {
	var got prescriptions.Actor
	h := Middleware(Header{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-User-ID", "7")
	req.Header.Set("X-Role", "Hospital")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, prescriptions.Actor{ID: 7, Role: prescriptions.RoleHospital}, got)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"authentication required"}`, rec.Body.String())
}
