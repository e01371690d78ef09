package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-hold/internal/config"
	"github.com/iliyamo/bus-seat-hold/internal/utils"
)

func serve(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBearerForward(t *testing.T) {
	tok, err := utils.NewAccessToken("s3cret", "shopper-7", time.Minute)
	require.NoError(t, err)

	e := echo.New()
	e.Use(BearerForward(nil))
	e.GET("/who", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user": shopperID(c)})
	})

	rec := serve(e, http.MethodGet, "/who", tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"shopper-7"}`, rec.Body.String())

	rec = serve(e, http.MethodGet, "/who", "")
	assert.JSONEq(t, `{"user":"anon"}`, rec.Body.String())

	later := func() time.Time { return time.Now().Add(time.Hour) }
	expired := echo.New()
	expired.Use(BearerForward(later))
	expired.GET("/who", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	rec = serve(expired, http.MethodGet, "/who", tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenBucket(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		Prefix:         "test:rl",
	}
	e := echo.New()
	e.POST("/refresh", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, rdb, nil))

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodPost, "/refresh", "").Code)
	rec := serve(e, http.MethodPost, "/refresh", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodPost, "/refresh", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.True(t, mr.Exists("test:rl:anon:POST /refresh"))
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.POST("/refresh", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(e, http.MethodPost, "/refresh", "").Code)
	}
}
