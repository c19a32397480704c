package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string, role Role) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
		Name: "Dr. Sarah Smith",
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", status)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != status {
		t.Errorf("expected %d, got %d", status, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectHTTPStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	id := uuid.New()
	tokenStr := createTestToken(t, validClaims(id.String(), RoleDirector), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	handler := func(c echo.Context) error {
		var ok bool
		got, ok = ActorFromContext(c.Request().Context())
		if !ok {
			t.Error("expected actor in context")
		}
		if uid := UserIDFromContext(c.Request().Context()); uid != id.String() {
			t.Errorf("expected user_id=%s, got %s", id, uid)
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != id || got.Role != RoleDirector || got.Name != "Dr. Sarah Smith" {
		t.Errorf("unexpected actor: %+v", got)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.NewString(), RoleParamedic)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString(), RoleDirector), []byte("some-other-key"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsBadClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
	}{
		{"non-uuid subject", validClaims("user-123", RoleDirector)},
		{"unknown role", validClaims(uuid.NewString(), Role("admin"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenStr := createTestToken(t, tt.claims, testSigningKey)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tokenStr)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectHTTPStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_QueryToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString(), RoleParamedic), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+tokenStr, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPStatus(t, err, http.StatusUnauthorized)

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err = JWTMiddleware(JWTConfig{SigningKey: testSigningKey, AllowQueryToken: true})(okHandler)(c)
	if err != nil {
		t.Fatalf("expected query token to be accepted, got %v", err)
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/auth/login")

	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper}
	if err := JWTMiddleware(cfg)(okHandler)(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if uid := UserIDFromContext(req.Context()); uid != "" {
		t.Errorf("expected empty user id, got %q", uid)
	}
	if _, ok := ActorFromContext(req.Context()); ok {
		t.Error("expected no actor in empty context")
	}
}

func TestCurrentActor(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if _, err := CurrentActor(c); !apperr.Is(err, apperr.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}

	want := Actor{ID: uuid.New(), Role: RoleParamedic}
	c.SetRequest(req.WithContext(WithActor(req.Context(), want)))
	got, err := CurrentActor(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("expected actor %s, got %s", want.ID, got.ID)
	}
}
