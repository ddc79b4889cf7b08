package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/harrys-tix/internal/config"
	"github.com/iliyamo/harrys-tix/internal/utils"
)

func newEcho(t *testing.T) *echo.Echo {
	e := echo.New()
	e.Use(RequestLogger(zaptest.NewLogger(t)))
	e.Use(Metrics())
	g := e.Group("", JWTAuth("secret"))
	g.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user": c.Get("user_id"), "role": c.Get("role")})
	})
	g.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireRole("ADMIN"))
	return e
}

func do(e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newEcho(t)

	rec := do(e, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing bearer token"}`, rec.Body.String())

	rec = do(e, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := utils.NewAccessToken("secret", 9, "USER", 5)
	require.NoError(t, err)
	rec = do(e, "/me", tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":9,"role":"USER"}`, rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	e := newEcho(t)

	user, err := utils.NewAccessToken("secret", 9, "USER", 5)
	require.NoError(t, err)
	rec := do(e, "/admin", user.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := utils.NewAccessToken("secret", 1, "ADMIN", 5)
	require.NoError(t, err)
	rec = do(e, "/admin", admin.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/pre-orders", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/pre-orders")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:anon:route:POST /v1/pre-orders", buildRateKey(cfg, c))

	c.Set("user_id", uint64(5))
	assert.Equal(t, "rl:user:5:route:POST /v1/pre-orders", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(cfg, c))
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	mw := NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil)
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, mw)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(3), asInt64(int64(3)))
	assert.Equal(t, int64(2), asInt64("2"))
	assert.Equal(t, int64(0), asInt64(nil))
}
