package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"courier/pkg/api/auth"
	"courier/pkg/api/utils"
	"courier/pkg/delivery"
	"courier/pkg/inbox"
	"courier/pkg/logger"
	"courier/pkg/metrics"
	"courier/pkg/models"
	"courier/pkg/router"
	"courier/pkg/store"

	"github.com/valyala/fasthttp"
)

type handlers struct {
	Deps
}

// requireAuthor writes 400 and returns false when the request has no
// acting user.
func requireAuthor(ctx *fasthttp.RequestCtx) (string, bool) {
	author, ok := auth.Author(ctx)
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "author required")
		return "", false
	}
	return author, true
}

func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// writeError maps the error taxonomy onto status codes.
func writeError(ctx *fasthttp.RequestCtx, op string, err error) {
	var ve *delivery.ValidationError
	switch {
	case errors.As(err, &ve):
		metrics.Declined.WithLabelValues("validation").Inc()
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, ve.Error())
	case errors.Is(err, delivery.ErrValidation), errors.Is(err, inbox.ErrInvalid):
		metrics.Declined.WithLabelValues("validation").Inc()
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, delivery.ErrNotFound), errors.Is(err, store.ErrNotFound):
		metrics.Declined.WithLabelValues("not_found").Inc()
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "request cancelled")
	default:
		logger.Error("request_failed", "op", op, "path", utils.GetPath(ctx), "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}

func (h *handlers) sign(ctx *fasthttp.RequestCtx) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(ctx, &payload) {
		return
	}
	if err := models.ValidateUserID(payload.UserID); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid user id: "+err.Error())
		return
	}
	sig, err := h.Signer.Sign(payload.UserID)
	if err != nil {
		logger.Error("sign_failed", "error", err)
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}
	_ = router.WriteJSON(ctx, map[string]string{"userId": payload.UserID, "signature": sig})
}

func (h *handlers) putUser(ctx *fasthttp.RequestCtx) {
	id := utils.GetPathParam(ctx, "userId")
	if err := models.ValidateUserID(id); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid user id: "+err.Error())
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeBody(ctx, &payload) {
		return
	}
	u := models.User{ID: id, Name: strings.TrimSpace(payload.Name)}
	if u.Name == "" {
		u.Name = id
	}
	if err := h.Users.PutUser(ctx, u); err != nil {
		writeError(ctx, "put_user", err)
		return
	}
	_ = router.WriteJSON(ctx, u)
}

func (h *handlers) getUser(ctx *fasthttp.RequestCtx) {
	u, err := h.Users.GetUser(ctx, utils.GetPathParam(ctx, "userId"))
	if err != nil {
		writeError(ctx, "get_user", err)
		return
	}
	_ = router.WriteJSON(ctx, u)
}

func (h *handlers) listConversations(ctx *fasthttp.RequestCtx) {
	author, ok := requireAuthor(ctx)
	if !ok {
		return
	}
	page, err := h.Inbox.ConversationsFor(ctx, author)
	if err != nil {
		writeError(ctx, "conversations", err)
		return
	}
	_ = router.WriteJSON(ctx, page)
}

func (h *handlers) searchPartners(ctx *fasthttp.RequestCtx) {
	author, ok := requireAuthor(ctx)
	if !ok {
		return
	}
	page, err := h.Inbox.SearchPartners(ctx, author, utils.GetQueryInt(ctx, "page", 1), utils.GetQuery(ctx, "q"))
	if err != nil {
		writeError(ctx, "search_partners", err)
		return
	}
	_ = router.WriteJSON(ctx, page)
}

func (h *handlers) history(ctx *fasthttp.RequestCtx) {
	author, ok := requireAuthor(ctx)
	if !ok {
		return
	}
	page, err := h.Inbox.History(ctx, author, utils.GetPathParam(ctx, "partner"), utils.GetQueryInt(ctx, "page", 1))
	if err != nil {
		writeError(ctx, "history", err)
		return
	}
	_ = router.WriteJSON(ctx, page)
}

func (h *handlers) markSeen(ctx *fasthttp.RequestCtx) {
	author, ok := requireAuthor(ctx)
	if !ok {
		return
	}
	var payload struct {
		UpTo uint64 `json:"up_to"`
	}
	if !decodeBody(ctx, &payload) {
		return
	}
	n, err := h.Engine.MarkSeen(ctx, author, utils.GetPathParam(ctx, "partner"), payload.UpTo)
	if err != nil {
		writeError(ctx, "mark_seen", err)
		return
	}
	_ = router.WriteJSON(ctx, map[string]int{"updated": n})
}

func (h *handlers) sendMessage(ctx *fasthttp.RequestCtx) {
	author, ok := requireAuthor(ctx)
	if !ok {
		return
	}
	var payload struct {
		Receiver string `json:"receiver"`
		Text     string `json:"text"`
		ReplyTo  uint64 `json:"reply_to"`
	}
	if !decodeBody(ctx, &payload) {
		return
	}
	view, err := h.Engine.Send(ctx, delivery.SendRequest{
		Sender:   author,
		Receiver: payload.Receiver,
		Text:     payload.Text,
		ReplyTo:  payload.ReplyTo,
	})
	if err != nil {
		writeError(ctx, "send_message", err)
		return
	}
	_ = router.WriteJSONStatus(ctx, fasthttp.StatusCreated, view)
}

func (h *handlers) putReaction(ctx *fasthttp.RequestCtx) {
	var payload struct {
		Reaction string `json:"reaction"`
	}
	if !decodeBody(ctx, &payload) {
		return
	}
	h.react(ctx, payload.Reaction)
}

func (h *handlers) deleteReaction(ctx *fasthttp.RequestCtx) {
	h.react(ctx, "")
}

func (h *handlers) react(ctx *fasthttp.RequestCtx, reaction string) {
	author, ok := requireAuthor(ctx)
	if !ok {
		return
	}
	id, err := utils.GetPathUint(ctx, "id")
	if err != nil || id == 0 {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid message id")
		return
	}
	res, err := h.Engine.React(ctx, delivery.ReactRequest{Actor: author, MessageID: id, Reaction: reaction})
	if err != nil {
		writeError(ctx, "react", err)
		return
	}
	_ = router.WriteJSON(ctx, res)
}
