package utils

import (
	"net"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
)

// GetHeader returns a trimmed header value.
func GetHeader(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.Request.Header.Peek(key)))
}

// GetQuery returns a trimmed query parameter.
func GetQuery(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.QueryArgs().Peek(key)))
}

// GetQueryInt parses a query parameter, returning def when absent or bad.
func GetQueryInt(ctx *fasthttp.RequestCtx, key string, def int) int {
	v := GetQuery(ctx, key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// GetPathParam returns a router-captured path segment.
func GetPathParam(ctx *fasthttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

// GetPathUint parses a numeric path segment.
func GetPathUint(ctx *fasthttp.RequestCtx, name string) (uint64, error) {
	return strconv.ParseUint(GetPathParam(ctx, name), 10, 64)
}

func GetPath(ctx *fasthttp.RequestCtx) string { return string(ctx.Path()) }

func HasPathPrefix(ctx *fasthttp.RequestCtx, prefix string) bool {
	return strings.HasPrefix(GetPath(ctx), prefix)
}

// ExtractAPIKey reads "Authorization: Bearer <key>", then X-API-Key, then
// the api_key query parameter used by websocket clients.
func ExtractAPIKey(ctx *fasthttp.RequestCtx) string {
	if auth := GetHeader(ctx, "Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	if k := GetHeader(ctx, "X-API-Key"); k != "" {
		return k
	}
	return GetQuery(ctx, "api_key")
}

// GetUserID returns X-User-ID, falling back to the user_id query parameter.
func GetUserID(ctx *fasthttp.RequestCtx) string {
	if v := GetHeader(ctx, "X-User-ID"); v != "" {
		return v
	}
	return GetQuery(ctx, "user_id")
}

// GetUserSignature returns X-User-Signature, falling back to the signature
// query parameter.
func GetUserSignature(ctx *fasthttp.RequestCtx) string {
	if v := GetHeader(ctx, "X-User-Signature"); v != "" {
		return v
	}
	return GetQuery(ctx, "signature")
}

// ClientIP is the remote host without port.
func ClientIP(ctx *fasthttp.RequestCtx) string {
	addr := ctx.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
