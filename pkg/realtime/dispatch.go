package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"courier/pkg/delivery"
	"courier/pkg/inbox"
	"courier/pkg/logger"
	"courier/pkg/metrics"
	"courier/pkg/models"
	"courier/pkg/store"

	"golang.org/x/time/rate"
)

var errForbidden = errors.New("acting user does not match the connection")

// Verifier checks a signed user id.
type Verifier interface {
	Verify(userID, signature string) bool
}

// Dispatcher routes every inbound variant to the delivery engine and
// answers each frame with an ack or a declined event.
type Dispatcher struct {
	engine   *delivery.Engine
	inbox    *inbox.Inbox
	verifier Verifier
}

// NewDispatcher builds a dispatcher. inbox may be nil, in which case
// sendMessage ignores the requested history page.
func NewDispatcher(engine *delivery.Engine, ib *inbox.Inbox, verifier Verifier) *Dispatcher {
	return &Dispatcher{engine: engine, inbox: ib, verifier: verifier}
}

// session is the per-connection state owned by the read loop.
type session struct {
	conn    *Conn
	user    string
	limiter *rate.Limiter
}

func newSession(conn *Conn, user string, rps float64, burst int) *session {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &session{conn: conn, user: user, limiter: rate.NewLimiter(limit, burst)}
}

// actor resolves the user a frame acts as. An empty claim means the bound
// user; any other user is refused.
func (s *session) actor(claimed string) (string, error) {
	if claimed == "" || claimed == s.user {
		return s.user, nil
	}
	return "", errForbidden
}

func (s *session) reply(ref string, ev models.Outbound) {
	if err := s.conn.deliver(ref, ev); err != nil {
		logger.Debug("ws_reply_dropped", "handle", s.conn.Handle(), "event", ev.Name(), "error", err)
	}
}

func (s *session) decline(ref, code, reason string) {
	metrics.Declined.WithLabelValues(code).Inc()
	s.reply(ref, models.Declined{Ref: ref, Code: code, Reason: reason})
}

// handleFrame processes one raw frame. It never fails the connection.
func (d *Dispatcher) handleFrame(ctx context.Context, s *session, data []byte) {
	var f models.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.decline("", "bad_frame", "frame is not valid JSON")
		return
	}
	if !s.limiter.Allow() {
		s.decline(f.ID, "rate_limited", "too many events")
		return
	}
	ev, err := models.DecodeInbound(f)
	if err != nil {
		var unknown *models.UnknownEventError
		if errors.As(err, &unknown) {
			s.decline(f.ID, "unknown_event", err.Error())
			return
		}
		s.decline(f.ID, "bad_payload", err.Error())
		return
	}

	res, err := d.dispatch(ctx, s, ev)
	if err != nil {
		code, reason := classify(err)
		if code == "internal" {
			logger.Error("ws_event_failed", "event", ev.Name(), "user", s.user, "handle", s.conn.Handle(), "error", err)
		} else {
			logger.Debug("ws_event_declined", "event", ev.Name(), "user", s.user, "code", code, "reason", reason)
		}
		s.decline(f.ID, code, reason)
		return
	}
	s.reply(f.ID, models.Ack{Ref: f.ID, Data: res})
}

func (d *Dispatcher) dispatch(ctx context.Context, s *session, ev models.Inbound) (any, error) {
	switch ev := ev.(type) {
	case *models.RegisterUser:
		return d.register(ctx, s, ev)

	case *models.OpenChat:
		user, err := s.actor(ev.UserID)
		if err != nil {
			return nil, err
		}
		n, err := d.engine.OpenChat(ctx, user, ev.PartnerID)
		if err != nil {
			return nil, err
		}
		return map[string]int{"seen": n}, nil

	case *models.CloseChat:
		user, err := s.actor(ev.UserID)
		if err != nil {
			return nil, err
		}
		return nil, d.engine.CloseChat(user)

	case *models.SendMessage:
		return d.send(ctx, s, ev)

	case *models.SendTyping:
		sender, err := s.actor(ev.Sender)
		if err != nil {
			return nil, err
		}
		online, err := d.engine.SendTyping(sender, ev.Receiver)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"online": online}, nil

	case *models.RemoveTyping:
		sender, err := s.actor(ev.Sender)
		if err != nil {
			return nil, err
		}
		online, err := d.engine.RemoveTyping(sender, ev.Receiver)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"online": online}, nil

	case *models.SendReaction:
		return d.engine.React(ctx, delivery.ReactRequest{
			Actor:     s.user,
			MessageID: ev.Message.ID,
			Reaction:  ev.Message.Reaction,
		})
	}
	return nil, &models.UnknownEventError{Type: ev.Name()}
}

// register re-binds the connection. Binding a different user than the
// current one requires that user's signature, and the previous user stops
// receiving events on this connection.
func (d *Dispatcher) register(ctx context.Context, s *session, ev *models.RegisterUser) (any, error) {
	user := ev.UserID
	if user == "" {
		user = s.user
	}
	if user != s.user && (d.verifier == nil || !d.verifier.Verify(user, ev.Signature)) {
		return nil, errForbidden
	}
	res, err := d.engine.Register(ctx, user, s.conn)
	if err != nil && !res.First {
		return nil, err
	}
	if prev := s.user; prev != user {
		d.engine.Release(prev, s.conn.Handle())
	}
	s.user = user
	return res, err
}

func (d *Dispatcher) send(ctx context.Context, s *session, ev *models.SendMessage) (any, error) {
	sender, err := s.actor(ev.Message.Sender)
	if err != nil {
		return nil, err
	}
	req := delivery.SendRequest{Sender: sender, Receiver: ev.Message.Receiver, Text: ev.Message.Text}
	if ev.Message.ReplyTo != nil {
		req.ReplyTo = ev.Message.ReplyTo.ID
	}
	view, err := d.engine.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if ev.Page < 1 || d.inbox == nil {
		return map[string]any{"message": view}, nil
	}
	hist, err := d.inbox.History(ctx, sender, req.Receiver, ev.Page)
	if err != nil {
		// the message is stored; report it without the page
		logger.Warn("ws_history_failed", "user", sender, "error", err)
		return map[string]any{"message": view}, nil
	}
	return map[string]any{"message": view, "history": hist}, nil
}

func classify(err error) (code, reason string) {
	var ve *delivery.ValidationError
	switch {
	case errors.As(err, &ve):
		return "validation", ve.Error()
	case errors.Is(err, delivery.ErrValidation):
		return "validation", err.Error()
	case errors.Is(err, delivery.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found", err.Error()
	case errors.Is(err, errForbidden):
		return "forbidden", err.Error()
	}
	var unknown *models.UnknownEventError
	if errors.As(err, &unknown) {
		return "unknown_event", err.Error()
	}
	return "internal", "internal error"
}
