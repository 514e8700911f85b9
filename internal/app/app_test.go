package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"courier/pkg/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.DBPath = t.TempDir()
	cfg.Security.APIKeys.Backend = []string{"be"}
	cfg.Security.APIKeys.Frontend = []string{"fe"}
	require.NoError(t, config.ValidateConfig(cfg))

	a, err := New(config.EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: cfg.Server.DBPath, Source: "test"}, "test", "none", "unknown")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func serve(h fasthttp.RequestHandler, method, uri string, headers map[string]string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	for k, v := range headers {
		ctx.Request.Header.Set(k, v)
	}
	h(&ctx)
	return &ctx
}

func TestHealthAndReady(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()

	t.Run("Healthz", func(t *testing.T) {
		// Subtest: health needs no api key
		ctx := serve(h, "GET", "/healthz", nil)
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("Readyz", func(t *testing.T) {
		ctx := serve(h, "GET", "/readyz", nil)
		require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		var body map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "test", body["version"])
	})

	t.Run("ApiNeedsKey", func(t *testing.T) {
		ctx := serve(h, "GET", "/v1/conversations", nil)
		assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		ctx := serve(h, "GET", "/v1/nope", map[string]string{"X-API-Key": "be"})
		assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	})

	t.Run("WebsocketNeedsUser", func(t *testing.T) {
		ctx := serve(h, "GET", "/v1/ws", map[string]string{"X-API-Key": "be"})
		assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	})
}

func TestReadyzAfterStoreClosed(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.db.Close())
	ctx := serve(a.handler(), "GET", "/readyz", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestShutdownIdempotentStore(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, "stopped", a.state)
	assert.False(t, a.db.Ready())
}
