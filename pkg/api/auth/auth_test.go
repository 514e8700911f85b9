package auth

import (
	"net"
	"testing"
	"time"

	"courier/pkg/timeutil"

	"github.com/valyala/fasthttp"
)

func newCtx(method, uri string, headers map[string]string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Init(&fasthttp.Request{}, &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5555}, nil)
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	for k, v := range headers {
		ctx.Request.Header.Set(k, v)
	}
	return &ctx
}

func testGateway() *Gateway {
	return NewGateway(SecConfig{
		RPS:          100,
		Burst:        2,
		BackendKeys:  map[string]struct{}{"bk": {}},
		FrontendKeys: map[string]struct{}{"fk": {}},
	})
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner([]string{"new", "old"})
	sig, err := s.Sign("alice")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !s.Verify("alice", sig) {
		t.Fatalf("own signature rejected")
	}
	if !s.Verify("alice", CreateHMACSignature("alice", "old")) {
		t.Fatalf("rotated key signature rejected")
	}
	if s.Verify("bob", sig) {
		t.Fatalf("signature accepted for another user")
	}
	if _, err := NewSigner(nil).Sign("alice"); err != ErrNoSigningKey {
		t.Fatalf("expected ErrNoSigningKey, got %v", err)
	}
}

func TestGatewayRoles(t *testing.T) {
	g := testGateway()
	defer g.Close()
	var seen Role
	h := g.Wrap(func(ctx *fasthttp.RequestCtx) { seen = RoleOf(ctx) })

	// Subtest: public paths need no key.
	t.Run("Public", func(t *testing.T) {
		ctx := newCtx("GET", "/healthz", nil)
		h(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusOK || seen != RoleUnauth {
			t.Fatalf("healthz: status=%d role=%v", ctx.Response.StatusCode(), seen)
		}
	})

	// Subtest: unknown keys are rejected.
	t.Run("UnknownKey", func(t *testing.T) {
		ctx := newCtx("GET", "/v1/conversations", map[string]string{"X-API-Key": "nope"})
		h(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
			t.Fatalf("expected 401 got %d", ctx.Response.StatusCode())
		}
	})

	// Subtest: bearer and query keys resolve roles.
	t.Run("KeySources", func(t *testing.T) {
		ctx := newCtx("GET", "/v1/conversations", map[string]string{"Authorization": "Bearer  fk"})
		h(ctx)
		if seen != RoleFrontend {
			t.Fatalf("expected frontend got %v", seen)
		}
		ctx = newCtx("GET", "/v1/ws?api_key=bk", nil)
		h(ctx)
		if seen != RoleBackend {
			t.Fatalf("expected backend got %v", seen)
		}
	})

	// Subtest: frontends cannot mint signatures or rename users.
	t.Run("FrontendRestricted", func(t *testing.T) {
		for _, c := range []struct{ method, path string }{{"POST", "/v1/sign"}, {"PUT", "/v1/users/alice"}} {
			ctx := newCtx(c.method, c.path, map[string]string{"X-API-Key": "fk"})
			h(ctx)
			if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
				t.Fatalf("%s %s: expected 403 got %d", c.method, c.path, ctx.Response.StatusCode())
			}
		}
		ctx := newCtx("GET", "/v1/users/alice", map[string]string{"X-API-Key": "fk"})
		h(ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusOK {
			t.Fatalf("frontend read of user should pass, got %d", ctx.Response.StatusCode())
		}
	})
}

func TestGatewayRateLimit(t *testing.T) {
	g := NewGateway(SecConfig{RPS: 0.001, Burst: 2, BackendKeys: map[string]struct{}{"bk": {}}})
	defer g.Close()
	h := g.Wrap(func(ctx *fasthttp.RequestCtx) {})
	codes := []int{}
	for i := 0; i < 3; i++ {
		ctx := newCtx("GET", "/v1/conversations", map[string]string{"X-API-Key": "bk"})
		h(ctx)
		codes = append(codes, ctx.Response.StatusCode())
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != fasthttp.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestGatewayIPWhitelistAndCORS(t *testing.T) {
	g := NewGateway(SecConfig{
		RPS: 10, Burst: 10,
		AllowedOrigins: []string{"https://app.example"},
		IPWhitelist:    []string{"192.168.1.1"},
		BackendKeys:    map[string]struct{}{"bk": {}},
	})
	defer g.Close()
	h := g.Wrap(func(ctx *fasthttp.RequestCtx) {})

	ctx := newCtx("OPTIONS", "/v1/messages", map[string]string{"Origin": "https://app.example"})
	h(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusNoContent {
		t.Fatalf("preflight: expected 204 got %d", ctx.Response.StatusCode())
	}
	if string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")) != "https://app.example" {
		t.Fatalf("missing CORS header")
	}

	ctx = newCtx("GET", "/v1/conversations", map[string]string{"X-API-Key": "bk"})
	h(ctx)
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("expected 403 for non-whitelisted ip, got %d", ctx.Response.StatusCode())
	}
}

func TestRequireSignedAuthor(t *testing.T) {
	signer := NewSigner([]string{"bk"})
	sig, _ := signer.Sign("alice")
	var author string
	var has bool
	h := RequireSignedAuthor(signer)(func(ctx *fasthttp.RequestCtx) { author, has = Author(ctx) })

	run := func(role Role, headers map[string]string) *fasthttp.RequestCtx {
		ctx := newCtx("GET", "/v1/conversations", headers)
		ctx.SetUserValue(roleKey, role)
		author, has = "", false
		h(ctx)
		return ctx
	}

	if ctx := run(RoleFrontend, map[string]string{"X-User-ID": "alice", "X-User-Signature": sig}); ctx.Response.StatusCode() != 200 || author != "alice" {
		t.Fatalf("valid signature: status=%d author=%q", ctx.Response.StatusCode(), author)
	}
	if ctx := run(RoleFrontend, map[string]string{"X-User-ID": "mallory", "X-User-Signature": sig}); ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("forged signature accepted")
	}
	if ctx := run(RoleFrontend, map[string]string{"X-User-ID": "alice"}); ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("missing signature accepted for frontend")
	}
	if run(RoleBackend, map[string]string{"X-User-ID": "bob"}); author != "bob" {
		t.Fatalf("backend author from header: got %q", author)
	}
	if run(RoleBackend, nil); has {
		t.Fatalf("backend without user id should have no author")
	}
	if ctx := run(RoleBackend, map[string]string{"X-User-ID": "bad:id"}); ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("invalid backend user id accepted")
	}
}

func TestLimiterPrune(t *testing.T) {
	clock := timeutil.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	p := newLimiterPool(1, 1, clock)
	defer p.Shutdown()
	p.Allow("k")
	clock.Advance(11 * time.Minute)
	p.prune()
	p.mu.Lock()
	n := len(p.m)
	p.mu.Unlock()
	if n != 0 {
		t.Fatalf("idle limiter not pruned")
	}
}
