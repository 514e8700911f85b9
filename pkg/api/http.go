package api

import (
	"context"

	"courier/pkg/api/auth"
	"courier/pkg/delivery"
	"courier/pkg/inbox"
	"courier/pkg/models"
	"courier/pkg/router"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Users is the user registry used by the admin-style user routes.
type Users interface {
	PutUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
}

// Deps are the services the HTTP surface passes through to.
type Deps struct {
	Engine *delivery.Engine
	Inbox  *inbox.Inbox
	Users  Users
	Signer *auth.Signer
	// Realtime upgrades GET /v1/ws. Optional.
	Realtime fasthttp.RequestHandler
}

// RegisterRoutes wires every API route onto r.
func RegisterRoutes(r *router.Router, d Deps) {
	h := &handlers{Deps: d}

	r.POST("/v1/sign", h.sign)

	r.PUT("/v1/users/{userId}", h.putUser)
	r.GET("/v1/users/{userId}", h.getUser)

	r.GET("/v1/conversations", h.listConversations)
	r.GET("/v1/conversations/search", h.searchPartners)
	r.GET("/v1/conversations/{partner}/messages", h.history)
	r.POST("/v1/conversations/{partner}/seen", h.markSeen)

	r.POST("/v1/messages", h.sendMessage)
	r.PUT("/v1/messages/{id}/reaction", h.putReaction)
	r.DELETE("/v1/messages/{id}/reaction", h.deleteReaction)

	if d.Realtime != nil {
		r.GET("/v1/ws", d.Realtime)
	}

	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
}
