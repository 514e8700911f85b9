package auth

import (
	"strings"

	"courier/pkg/api/utils"
	"courier/pkg/logger"
	"courier/pkg/router"
	"courier/pkg/timeutil"

	"github.com/valyala/fasthttp"
)

// SecConfig is the gateway's view of the security settings.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	Clock          timeutil.Clock
}

// Gateway applies CORS, IP allow-listing, API key roles and per-key rate
// limits in front of the API.
type Gateway struct {
	cfg      SecConfig
	limiters *limiterPool
}

func NewGateway(cfg SecConfig) *Gateway {
	return &Gateway{cfg: cfg, limiters: newLimiterPool(cfg.RPS, cfg.Burst, cfg.Clock)}
}

// Close stops background limiter cleanup.
func (g *Gateway) Close() { g.limiters.Shutdown() }

// Wrap returns next guarded by the gateway.
func (g *Gateway) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.Debug("request", "method", string(ctx.Method()), "path", utils.GetPath(ctx), "remote", utils.ClientIP(ctx))

		if origin := utils.GetHeader(ctx, "Origin"); origin != "" && originAllowed(origin, g.cfg.AllowedOrigins) {
			h := &ctx.Response.Header
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Signature")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		if len(g.cfg.IPWhitelist) > 0 {
			ip := utils.ClientIP(ctx)
			if !ipWhitelisted(ip, g.cfg.IPWhitelist) {
				logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", utils.GetPath(ctx))
				router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
				return
			}
		}

		if publicPath(ctx) {
			ctx.SetUserValue(roleKey, RoleUnauth)
			next(ctx)
			return
		}

		role, key := g.role(ctx)
		if role == RoleUnauth {
			logger.Warn("request_unauthorized", "path", utils.GetPath(ctx), "remote", utils.ClientIP(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			return
		}
		ctx.SetUserValue(roleKey, role)

		if role == RoleFrontend && backendOnly(ctx) {
			logger.Warn("request_forbidden", "reason", "backend_only_route", "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
			return
		}

		if !g.limiters.Allow(key) {
			logger.Warn("rate_limited", "role", role.String(), "path", utils.GetPath(ctx))
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(ctx)
	}
}

func (g *Gateway) role(ctx *fasthttp.RequestCtx) (Role, string) {
	key := utils.ExtractAPIKey(ctx)
	if key == "" {
		return RoleUnauth, ""
	}
	if _, ok := g.cfg.BackendKeys[key]; ok {
		return RoleBackend, key
	}
	if _, ok := g.cfg.FrontendKeys[key]; ok {
		return RoleFrontend, key
	}
	return RoleUnauth, key
}

// backendOnly lists routes a frontend key may not call.
func backendOnly(ctx *fasthttp.RequestCtx) bool {
	path := utils.GetPath(ctx)
	method := string(ctx.Method())
	if strings.HasPrefix(path, "/v1/sign") {
		return true
	}
	return strings.HasPrefix(path, "/v1/users/") && method != fasthttp.MethodGet
}

func publicPath(ctx *fasthttp.RequestCtx) bool {
	if string(ctx.Method()) != fasthttp.MethodGet {
		return false
	}
	switch utils.GetPath(ctx) {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}
