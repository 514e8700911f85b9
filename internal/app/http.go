package app

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"courier/pkg/api"
	"courier/pkg/api/auth"
	"courier/pkg/router"
)

// readyzHandlerFast reports ready when the store is open and the disk
// sensor is not alerting.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	if !a.db.Ready() {
		_ = router.WriteJSONStatus(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	if a.hwSensor != nil && a.hwSensor.DiskAlert() {
		_ = router.WriteJSONStatus(ctx, fasthttp.StatusServiceUnavailable, map[string]any{
			"status":        "disk pressure",
			"disk_used_pct": a.hwSensor.UsedPct(),
		})
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_ = router.WriteJSON(ctx, map[string]any{
		"status":      "ok",
		"version":     ver,
		"online":      a.engine.Directory().Online(),
		"connections": a.realtime.Connections(),
	})
}

func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	_ = router.WriteJSON(ctx, map[string]string{"status": "ok"})
}

// handler builds the routed and wrapped request handler.
func (a *App) handler() fasthttp.RequestHandler {
	r := router.New()
	r.GET("/healthz", a.healthzHandlerFast)
	r.GET("/readyz", a.readyzHandlerFast)

	api.RegisterRoutes(r, api.Deps{
		Engine:   a.engine,
		Inbox:    a.inbox,
		Users:    a.db,
		Signer:   a.signer,
		Realtime: a.realtime.Handler,
	})

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})

	h := auth.RequireSignedAuthor(a.signer)(r.Handler)
	return a.gateway.Wrap(h)
}

// startHTTP builds and starts the fasthttp server, returning a channel
// that delivers errors.
func (a *App) startHTTP(_ context.Context) <-chan error {
	const (
		readBufferSize       = 64 * 1024
		maxRequestBodySize   = 1 * 1024 * 1024
		readTimeout          = 10 * time.Second
		writeTimeout         = 10 * time.Second
		idleTimeout          = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	a.srvFast = &fasthttp.Server{
		Name:                 "courier",
		Handler:              a.handler(),
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   maxRequestBodySize,
		ReduceMemoryUsage:    true,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srvFast.ListenAndServe(a.eff.Addr)
	}()
	return errCh
}
