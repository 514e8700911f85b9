package router

import (
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"
)

func do(r *Router, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(&ctx)
	return &ctx
}

func TestRouterParamsAndFallbacks(t *testing.T) {
	r := New()
	r.GET("/v1/conversations/search", func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("search") })
	r.GET("/v1/conversations/{partner}/messages", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("history:" + ctx.UserValue("partner").(string))
	})
	r.PUT("/v1/messages/{id}/reaction", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("react:" + ctx.UserValue("id").(string))
	})

	if got := string(do(r, "GET", "/v1/conversations/search").Response.Body()); got != "search" {
		t.Fatalf("literal route: got %q", got)
	}
	if got := string(do(r, "GET", "/v1/conversations/bob/messages/").Response.Body()); got != "history:bob" {
		t.Fatalf("param route: got %q", got)
	}
	if got := string(do(r, "PUT", "/v1/messages/12/reaction?x=1").Response.Body()); got != "react:12" {
		t.Fatalf("query string should be ignored: got %q", got)
	}

	ctx := do(r, "DELETE", "/v1/conversations/search")
	if ctx.Response.StatusCode() != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", ctx.Response.StatusCode())
	}
	ctx = do(r, "GET", "/nope")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("expected 404 got %d", ctx.Response.StatusCode())
	}
	var body map[string]string
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil || body["error"] != "not found" {
		t.Fatalf("unexpected error body %q", ctx.Response.Body())
	}
}
