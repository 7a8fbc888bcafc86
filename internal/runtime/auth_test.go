package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/scout/config"
)

func TestLoadJWTSecretPrefersConfig(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: "from-config"}}
	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		t.Fatalf("LoadJWTSecret: %v", err)
	}
	if string(secret) != "from-config" {
		t.Fatalf("expected config secret, got %q", secret)
	}
}

func TestLoadJWTSecretFallsBackToEnv(t *testing.T) {
	t.Setenv("SCOUT_JWT_SECRET", "from-env")
	secret, err := LoadJWTSecret(&config.Config{})
	if err != nil {
		t.Fatalf("LoadJWTSecret: %v", err)
	}
	if string(secret) != "from-env" {
		t.Fatalf("expected env secret, got %q", secret)
	}
}

func TestEchoAuthMiddlewareAcceptsSignedToken(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-1", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		sub, ok := SubjectFromContext(c.Request().Context())
		if !ok || sub != "user-1" {
			t.Fatalf("expected subject user-1 in context, got %q ok=%t", sub, ok)
		}
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEchoAuthMiddlewareRejectsMissingAndInvalidTokens(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %v", err)
	}

	other, _ := SignJWT("user-1", []byte("wrong-secret"), time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-1", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}
