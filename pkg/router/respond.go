package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// WriteJSON writes data as a JSON body with status 200 unless already set.
func WriteJSON(ctx *fasthttp.RequestCtx, data any) error {
	ctx.SetContentType("application/json")
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONStatus writes data with the given status.
func WriteJSONStatus(ctx *fasthttp.RequestCtx, status int, data any) error {
	ctx.SetStatusCode(status)
	return WriteJSON(ctx, data)
}

// WriteJSONError writes {"error": message} with status.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}
