package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"courier/pkg/logger"
	"courier/pkg/metrics"
	"courier/pkg/models"
	"courier/pkg/presence"
	"courier/pkg/store"
	"courier/pkg/timeutil"
)

// Store is the durable state the engine reads and transitions.
type Store interface {
	CreateMessage(ctx context.Context, msg models.Message, replyTo uint64) (models.Message, error)
	GetMessage(ctx context.Context, id uint64) (models.Message, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	SweepDelivered(ctx context.Context, receiver string, now time.Time) (int, error)
	SweepSeen(ctx context.Context, receiver, sender string, upTo uint64, now time.Time) (int, error)
	PutReaction(ctx context.Context, id uint64, reaction string) (bool, error)
	DeleteReaction(ctx context.Context, id uint64) (bool, error)
}

var _ Store = (*store.DB)(nil)

// Engine applies message state transitions and pushes live events. Live
// events are only emitted after the durable write they describe succeeded.
type Engine struct {
	store Store
	dir   *presence.Directory
	chats *presence.OpenChats
	clock timeutil.Clock
}

// New builds an engine. A nil clock uses the wall clock.
func New(st Store, dir *presence.Directory, chats *presence.OpenChats, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.Real()
	}
	return &Engine{store: st, dir: dir, chats: chats, clock: clock}
}

// Directory exposes the presence directory for read-only callers.
func (e *Engine) Directory() *presence.Directory { return e.dir }

// OpenChats exposes the open-chat tracker for read-only callers.
func (e *Engine) OpenChats() *presence.OpenChats { return e.chats }

// ConnectResult describes a registration.
type ConnectResult struct {
	First bool `json:"first"`
	Swept int  `json:"swept"`
}

// Connect registers conn for user. On the user's first registration every
// message still pending delivery to them becomes delivered. If the sweep
// fails the registration stays in place.
func (e *Engine) Connect(ctx context.Context, user string, conn presence.Conn) (ConnectResult, error) {
	if err := models.ValidateUserID(user); err != nil {
		return ConnectResult{}, invalid("user_id", err.Error())
	}
	first := e.dir.Register(user, conn)
	metrics.Online.Set(float64(e.dir.Online()))
	res := ConnectResult{First: first}
	if !first {
		logger.Debug("presence_rebound", "user", user, "handle", conn.Handle())
		return res, nil
	}

	n, err := e.store.SweepDelivered(ctx, user, e.clock.Now())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("sweep_delivered").Inc()
		logger.Error("connect_sweep_failed", "user", user, "error", err)
		return res, translate("sweep delivered", err)
	}
	metrics.Sweeps.WithLabelValues("delivered").Inc()
	metrics.SweptRows.WithLabelValues("delivered").Add(float64(n))
	res.Swept = n
	logger.Debug("connect_sweep", "user", user, "handle", conn.Handle(), "rows", n)
	return res, nil
}

// Register re-binds user to conn. It behaves exactly like Connect.
func (e *Engine) Register(ctx context.Context, user string, conn presence.Conn) (ConnectResult, error) {
	return e.Connect(ctx, user, conn)
}

// Disconnect drops every user bound to handle and clears their open chat.
// A user who already re-registered on a newer connection is untouched.
func (e *Engine) Disconnect(handle string) []string {
	users := e.dir.Unregister(handle)
	for _, u := range users {
		e.chats.Close(u)
	}
	metrics.Online.Set(float64(e.dir.Online()))
	if len(users) > 0 {
		logger.Debug("presence_dropped", "handle", handle, "users", users)
	}
	return users
}

// Release drops user from handle when the connection switches to another
// identity. It is a no-op if user has since moved to a different handle.
func (e *Engine) Release(user, handle string) bool {
	if !e.dir.Release(user, handle) {
		return false
	}
	e.chats.Close(user)
	metrics.Online.Set(float64(e.dir.Online()))
	logger.Debug("presence_released", "user", user, "handle", handle)
	return true
}

// SendRequest is a new message from Sender to Receiver.
type SendRequest struct {
	Sender   string
	Receiver string
	Text     string
	ReplyTo  uint64
}

func (r SendRequest) validate() error {
	if err := models.ValidateUserID(r.Sender); err != nil {
		return invalid("sender", err.Error())
	}
	if err := models.ValidateUserID(r.Receiver); err != nil {
		return invalid("receiver", err.Error())
	}
	if r.Sender == r.Receiver {
		return invalid("receiver", "cannot message yourself")
	}
	if strings.TrimSpace(r.Text) == "" {
		return invalid("text", "text is required")
	}
	return nil
}

// Send persists a pending message and, when the receiver is online, pushes
// it to the receiver only. Pushing does not mark it delivered.
func (e *Engine) Send(ctx context.Context, req SendRequest) (models.MessageView, error) {
	if err := req.validate(); err != nil {
		return models.MessageView{}, err
	}
	if err := e.requireUser(ctx, req.Sender); err != nil {
		return models.MessageView{}, err
	}
	if err := e.requireUser(ctx, req.Receiver); err != nil {
		return models.MessageView{}, err
	}

	msg := models.NewMessage(req.Sender, req.Receiver, req.Text, e.clock.Now())
	created, err := e.store.CreateMessage(ctx, msg, req.ReplyTo)
	if err != nil {
		return models.MessageView{}, e.storeFailure("create_message", "create message", err)
	}
	metrics.MessagesSent.Inc()

	view := models.MessageView{Message: created}
	if req.ReplyTo != 0 {
		target, err := e.store.GetMessage(ctx, req.ReplyTo)
		if err != nil {
			// the message is stored; only the preview is missing
			logger.Warn("reply_preview_failed", "message_id", created.ID, "reply_to", req.ReplyTo, "error", err)
		} else {
			view.ReplyTo = &models.ReplyPreview{ID: target.ID, Sender: target.Sender, Text: target.Text}
		}
	}

	if conn, ok := e.dir.Lookup(req.Receiver); ok {
		e.emit(conn, models.ReceiveMessage{Message: view})
	}
	logger.Debug("message_sent", "id", created.ID, "sender", req.Sender, "receiver", req.Receiver)
	return view, nil
}

// OpenChat records partner as user's focused conversation and marks every
// message from partner to user as seen. The partner is told once if
// anything changed.
func (e *Engine) OpenChat(ctx context.Context, user, partner string) (int, error) {
	if err := validatePair(user, partner); err != nil {
		return 0, err
	}
	if err := e.requireUser(ctx, partner); err != nil {
		return 0, err
	}
	var n int
	err := e.chats.Open(user, partner, func() error {
		var err error
		n, err = e.sweepSeen(ctx, user, partner, 0)
		return err
	})
	return n, err
}

// CloseChat forgets user's focused conversation.
func (e *Engine) CloseChat(user string) error {
	if err := models.ValidateUserID(user); err != nil {
		return invalid("user_id", err.Error())
	}
	e.chats.Close(user)
	return nil
}

// MarkSeen marks messages from partner to user with id <= upTo as seen.
// upTo zero marks everything.
func (e *Engine) MarkSeen(ctx context.Context, user, partner string, upTo uint64) (int, error) {
	if err := validatePair(user, partner); err != nil {
		return 0, err
	}
	if err := e.requireUser(ctx, partner); err != nil {
		return 0, err
	}
	return e.sweepSeen(ctx, user, partner, upTo)
}

func (e *Engine) sweepSeen(ctx context.Context, user, partner string, upTo uint64) (int, error) {
	n, err := e.store.SweepSeen(ctx, user, partner, upTo, e.clock.Now())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("sweep_seen").Inc()
		logger.Error("seen_sweep_failed", "user", user, "partner", partner, "error", err)
		return 0, translate("sweep seen", err)
	}
	metrics.Sweeps.WithLabelValues("seen").Inc()
	metrics.SweptRows.WithLabelValues("seen").Add(float64(n))
	if n == 0 {
		return 0, nil
	}
	if conn, ok := e.dir.Lookup(partner); ok {
		e.emit(conn, models.SeenMessage{UserID: user})
	}
	logger.Debug("seen_sweep", "user", user, "partner", partner, "rows", n)
	return n, nil
}

// SendTyping relays a typing notice to receiver with the partner receiver
// currently has open, so the client can ignore notices for other chats.
// It reports whether the receiver was online.
func (e *Engine) SendTyping(sender, receiver string) (bool, error) {
	if err := validatePair(sender, receiver); err != nil {
		return false, err
	}
	conn, ok := e.dir.Lookup(receiver)
	if !ok {
		return false, nil
	}
	open, _ := e.chats.Partner(receiver)
	e.emit(conn, models.ReceiveTyping{Sender: sender, SameChatPartner: open})
	return true, nil
}

// RemoveTyping relays a stop-typing notice to receiver.
func (e *Engine) RemoveTyping(sender, receiver string) (bool, error) {
	if err := validatePair(sender, receiver); err != nil {
		return false, err
	}
	conn, ok := e.dir.Lookup(receiver)
	if !ok {
		return false, nil
	}
	e.emit(conn, models.ReceiveRemoveTyping{Sender: sender})
	return true, nil
}

// ReactRequest sets or clears the reaction on a message. Actor, when set,
// must be one of the two parties of the message.
type ReactRequest struct {
	Actor     string
	MessageID uint64
	Reaction  string
}

// ReactResult reports what happened to the stored reaction.
type ReactResult struct {
	MessageID uint64 `json:"message_id"`
	Reaction  string `json:"reaction,omitempty"`
	Deleted   bool   `json:"deleted"`
	// Replaced is true when an earlier reaction was overwritten. On delete
	// it reports whether there was anything to remove.
	Replaced bool `json:"replaced"`
}

// React upserts a reaction and relays it to the author of the message. A
// blank reaction deletes instead and is not relayed.
func (e *Engine) React(ctx context.Context, req ReactRequest) (ReactResult, error) {
	if req.MessageID == 0 {
		return ReactResult{}, invalid("message_id", "message id is required")
	}
	msg, err := e.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return ReactResult{}, e.storeFailure("get_message", "message", err)
	}
	if req.Actor != "" && req.Actor != msg.Sender && req.Actor != msg.Receiver {
		return ReactResult{}, translate("message", store.ErrNotFound)
	}

	reaction := strings.TrimSpace(req.Reaction)
	if reaction == "" {
		existed, err := e.store.DeleteReaction(ctx, req.MessageID)
		if err != nil {
			return ReactResult{}, e.storeFailure("delete_reaction", "delete reaction", err)
		}
		logger.Debug("reaction_deleted", "message_id", req.MessageID, "existed", existed)
		return ReactResult{MessageID: req.MessageID, Deleted: true, Replaced: existed}, nil
	}

	replaced, err := e.store.PutReaction(ctx, req.MessageID, reaction)
	if err != nil {
		return ReactResult{}, e.storeFailure("put_reaction", "put reaction", err)
	}
	if conn, ok := e.dir.Lookup(msg.Sender); ok {
		e.emit(conn, models.ReceiveReaction{Message: models.Reaction{MessageID: req.MessageID, Reaction: reaction}})
	}
	logger.Debug("reaction_set", "message_id", req.MessageID, "replaced", replaced)
	return ReactResult{MessageID: req.MessageID, Reaction: reaction, Replaced: replaced}, nil
}

func (e *Engine) requireUser(ctx context.Context, id string) error {
	if _, err := e.store.GetUser(ctx, id); err != nil {
		return e.storeFailure("get_user", "user "+id, err)
	}
	return nil
}

// storeFailure counts and logs transient errors; not-found and invalid
// reply targets pass through.
func (e *Engine) storeFailure(op, what string, err error) error {
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrReplyOutsideConversation) {
		metrics.StoreErrors.WithLabelValues(op).Inc()
		logger.Error("store_failed", "op", op, "error", err)
	}
	return translate(what, err)
}

func (e *Engine) emit(conn presence.Conn, ev models.Outbound) {
	if err := conn.Deliver(ev); err != nil {
		metrics.EventDeliverFailures.WithLabelValues(ev.Name()).Inc()
		logger.Warn("event_deliver_failed", "event", ev.Name(), "handle", conn.Handle(), "error", err)
		return
	}
	metrics.EventsEmitted.WithLabelValues(ev.Name()).Inc()
}

func validatePair(user, partner string) error {
	if err := models.ValidateUserID(user); err != nil {
		return invalid("user_id", err.Error())
	}
	if err := models.ValidateUserID(partner); err != nil {
		return invalid("partner_id", err.Error())
	}
	if user == partner {
		return invalid("partner_id", "partner must differ from user")
	}
	return nil
}
