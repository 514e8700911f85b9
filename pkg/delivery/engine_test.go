package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courier/pkg/models"
	"courier/pkg/presence"
	"courier/pkg/store"
	"courier/pkg/timeutil"
)

type recConn struct {
	handle string
	mu     sync.Mutex
	events []models.Outbound
}

func (c *recConn) Handle() string { return c.handle }

func (c *recConn) Deliver(ev models.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *recConn) got() []models.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Outbound(nil), c.events...)
}

type harness struct {
	t     *testing.T
	db    *store.DB
	eng   *Engine
	clock *timeutil.FakeClock
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, u := range users {
		if err := db.PutUser(context.Background(), models.User{ID: u, Name: u}); err != nil {
			t.Fatalf("put user %s: %v", u, err)
		}
	}
	clock := timeutil.Fake(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	eng := New(db, presence.NewDirectory(), presence.NewOpenChats(), clock)
	return &harness{t: t, db: db, eng: eng, clock: clock}
}

func (h *harness) send(from, to, text string) models.MessageView {
	h.t.Helper()
	v, err := h.eng.Send(context.Background(), SendRequest{Sender: from, Receiver: to, Text: text})
	if err != nil {
		h.t.Fatalf("send %s->%s: %v", from, to, err)
	}
	h.clock.Advance(time.Second)
	return v
}

func (h *harness) connect(user string, c *recConn) ConnectResult {
	h.t.Helper()
	res, err := h.eng.Connect(context.Background(), user, c)
	if err != nil {
		h.t.Fatalf("connect %s: %v", user, err)
	}
	return res
}

func (h *harness) message(id uint64) models.Message {
	h.t.Helper()
	m, err := h.db.GetMessage(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get message %d: %v", id, err)
	}
	return m
}

func TestSendToOnlineReceiverEmitsOnce(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	a, b, c := &recConn{handle: "ha"}, &recConn{handle: "hb"}, &recConn{handle: "hc"}
	h.connect("alice", a)
	h.connect("bob", b)
	h.connect("carol", c)

	v := h.send("alice", "bob", "hi")

	evs := b.got()
	if len(evs) != 1 {
		t.Fatalf("expected one event for bob, got %d", len(evs))
	}
	rm, ok := evs[0].(models.ReceiveMessage)
	if !ok || rm.Message.ID != v.ID || rm.Message.Text != "hi" {
		t.Fatalf("unexpected event %#v", evs[0])
	}
	if len(a.got()) != 0 || len(c.got()) != 0 {
		t.Fatalf("events leaked to sender or bystander: %v %v", a.got(), c.got())
	}
	// live push does not mark delivered
	if h.message(v.ID).State() != models.StatePending {
		t.Fatalf("push must not advance delivered")
	}
}

func TestConnectSweepOnlyOnFirstRegistration(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	m1 := h.send("alice", "bob", "one")
	m2 := h.send("alice", "bob", "two")

	res := h.connect("bob", &recConn{handle: "h1"})
	if !res.First || res.Swept != 2 {
		t.Fatalf("expected first connect to sweep 2, got %+v", res)
	}
	deliveredAt := h.message(m1.ID).Delivered
	if models.IsPending(deliveredAt) || models.IsPending(h.message(m2.ID).Delivered) {
		t.Fatalf("messages still pending after sweep")
	}

	m3 := h.send("alice", "bob", "three")
	res = h.connect("bob", &recConn{handle: "h2"})
	if res.First || res.Swept != 0 {
		t.Fatalf("reconnect while registered must not sweep, got %+v", res)
	}
	if h.message(m3.ID).State() != models.StatePending {
		t.Fatalf("message sent while online should stay pending until next first connect")
	}
	if !h.message(m1.ID).Delivered.Equal(deliveredAt) {
		t.Fatalf("delivered timestamp rewritten")
	}
}

func TestOpenChatSeenEventOnlyWhenRowsChange(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	a := &recConn{handle: "ha"}
	h.connect("alice", a)
	h.send("alice", "bob", "1")
	h.send("alice", "bob", "2")
	h.send("alice", "bob", "3")
	h.connect("bob", &recConn{handle: "hb"})

	n, err := h.eng.OpenChat(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("open chat: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows seen, got %d", n)
	}
	evs := a.got()
	if len(evs) != 1 {
		t.Fatalf("expected exactly one seen event, got %d", len(evs))
	}
	if sm, ok := evs[0].(models.SeenMessage); !ok || sm.UserID != "bob" {
		t.Fatalf("unexpected event %#v", evs[0])
	}

	n, err = h.eng.OpenChat(context.Background(), "bob", "alice")
	if err != nil || n != 0 {
		t.Fatalf("second open: n=%d err=%v", n, err)
	}
	if len(a.got()) != 1 {
		t.Fatalf("no rows changed, so no new event expected")
	}
	if p, ok := h.eng.OpenChats().Partner("bob"); !ok || p != "alice" {
		t.Fatalf("open chat not recorded")
	}
}

func TestTimestampsNeverRewind(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	m := h.send("alice", "bob", "hi")
	h.connect("bob", &recConn{handle: "hb"})
	if _, err := h.eng.OpenChat(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("open chat: %v", err)
	}
	before := h.message(m.ID)

	h.eng.Disconnect("hb")
	h.connect("bob", &recConn{handle: "hb2"})
	if _, err := h.eng.MarkSeen(context.Background(), "bob", "alice", 0); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	after := h.message(m.ID)
	if !after.Delivered.Equal(before.Delivered) || !after.Seen.Equal(before.Seen) {
		t.Fatalf("timestamps changed: before=%+v after=%+v", before, after)
	}
	if after.Sent.After(after.Delivered) || after.Delivered.After(after.Seen) {
		t.Fatalf("ordering violated: %+v", after)
	}
}

func TestMarkSeenUpTo(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	m1 := h.send("alice", "bob", "1")
	h.send("alice", "bob", "2")
	n, err := h.eng.MarkSeen(context.Background(), "bob", "alice", m1.ID)
	if err != nil || n != 1 {
		t.Fatalf("mark seen up to %d: n=%d err=%v", m1.ID, n, err)
	}
	// seen implies delivered
	if got := h.message(m1.ID); got.State() != models.StateSeen || models.IsPending(got.Delivered) {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestStaleDisconnectDoesNotUndoReconnect(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("bob", &recConn{handle: "old"})
	fresh := &recConn{handle: "new"}
	h.connect("bob", fresh)
	if _, err := h.eng.OpenChat(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("open chat: %v", err)
	}

	if users := h.eng.Disconnect("old"); len(users) != 0 {
		t.Fatalf("stale disconnect removed %v", users)
	}
	h.send("alice", "bob", "still here?")
	if len(fresh.got()) != 1 {
		t.Fatalf("fresh connection should still receive messages")
	}
	if _, ok := h.eng.OpenChats().Partner("bob"); !ok {
		t.Fatalf("stale disconnect closed the open chat")
	}

	if users := h.eng.Disconnect("new"); len(users) != 1 {
		t.Fatalf("expected bob dropped, got %v", users)
	}
	if _, ok := h.eng.OpenChats().Partner("bob"); ok {
		t.Fatalf("disconnect should clear open chat")
	}
}

func TestReleaseOnlyDropsMatchingHandle(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.connect("bob", &recConn{handle: "old"})
	fresh := &recConn{handle: "new"}
	h.connect("bob", fresh)
	if _, err := h.eng.OpenChat(context.Background(), "bob", "alice"); err != nil {
		t.Fatalf("open chat: %v", err)
	}

	if h.eng.Release("bob", "old") {
		t.Fatalf("release on a stale handle should be a no-op")
	}
	if _, ok := h.eng.OpenChats().Partner("bob"); !ok {
		t.Fatalf("stale release closed the open chat")
	}

	if !h.eng.Release("bob", "new") {
		t.Fatalf("expected bob released")
	}
	if _, ok := h.eng.Directory().Lookup("bob"); ok {
		t.Fatalf("bob should be offline")
	}
	if _, ok := h.eng.OpenChats().Partner("bob"); ok {
		t.Fatalf("release should clear open chat")
	}
}

func TestTypingCarriesReceiverOpenChat(t *testing.T) {
	h := newHarness(t, "alice", "bob", "carol")
	b := &recConn{handle: "hb"}
	h.connect("bob", b)
	if _, err := h.eng.OpenChat(context.Background(), "bob", "carol"); err != nil {
		t.Fatalf("open chat: %v", err)
	}

	online, err := h.eng.SendTyping("alice", "bob")
	if err != nil || !online {
		t.Fatalf("send typing: online=%v err=%v", online, err)
	}
	if _, err := h.eng.RemoveTyping("alice", "bob"); err != nil {
		t.Fatalf("remove typing: %v", err)
	}
	evs := b.got()
	if len(evs) != 2 {
		t.Fatalf("expected typing and stop typing, got %v", evs)
	}
	rt, ok := evs[0].(models.ReceiveTyping)
	if !ok || rt.Sender != "alice" || rt.SameChatPartner != "carol" {
		t.Fatalf("unexpected typing event %#v", evs[0])
	}
	if rr, ok := evs[1].(models.ReceiveRemoveTyping); !ok || rr.Sender != "alice" {
		t.Fatalf("unexpected stop typing event %#v", evs[1])
	}

	online, err = h.eng.SendTyping("bob", "alice")
	if err != nil || online {
		t.Fatalf("offline receiver: online=%v err=%v", online, err)
	}
}

func TestReactions(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	a := &recConn{handle: "ha"}
	h.connect("alice", a)
	m := h.send("alice", "bob", "hi")
	ctx := context.Background()

	if _, err := h.eng.React(ctx, ReactRequest{Actor: "bob", MessageID: m.ID, Reaction: ":+1:"}); err != nil {
		t.Fatalf("react: %v", err)
	}
	res, err := h.eng.React(ctx, ReactRequest{Actor: "bob", MessageID: m.ID, Reaction: ":heart:"})
	if err != nil || !res.Replaced {
		t.Fatalf("second react: %+v %v", res, err)
	}
	r, err := h.db.GetReaction(ctx, m.ID)
	if err != nil || r != ":heart:" {
		t.Fatalf("stored reaction %q %v", r, err)
	}
	evs := a.got()
	if len(evs) != 2 {
		t.Fatalf("author should get both reactions, got %d", len(evs))
	}
	if rr, ok := evs[1].(models.ReceiveReaction); !ok || rr.Message.Reaction != ":heart:" || rr.Message.MessageID != m.ID {
		t.Fatalf("unexpected reaction event %#v", evs[1])
	}

	res, err = h.eng.React(ctx, ReactRequest{Actor: "bob", MessageID: m.ID, Reaction: "  "})
	if err != nil || !res.Deleted || !res.Replaced {
		t.Fatalf("blank react should delete: %+v %v", res, err)
	}
	if _, err := h.db.GetReaction(ctx, m.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("reaction still stored: %v", err)
	}
	// deleting again is a no-op success
	res, err = h.eng.React(ctx, ReactRequest{MessageID: m.ID})
	if err != nil || !res.Deleted || res.Replaced {
		t.Fatalf("second delete: %+v %v", res, err)
	}

	if _, err := h.eng.React(ctx, ReactRequest{Actor: "mallory", MessageID: m.ID, Reaction: ":x:"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider react should be not found, got %v", err)
	}
	if _, err := h.eng.React(ctx, ReactRequest{MessageID: 999, Reaction: ":x:"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing message should be not found, got %v", err)
	}
}

func TestSendRejectsBeforeWriting(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	cases := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"no text", SendRequest{Sender: "alice", Receiver: "bob", Text: "   "}, ErrValidation},
		{"no receiver", SendRequest{Sender: "alice", Text: "x"}, ErrValidation},
		{"self", SendRequest{Sender: "alice", Receiver: "alice", Text: "x"}, ErrValidation},
		{"unknown receiver", SendRequest{Sender: "alice", Receiver: "zed", Text: "x"}, ErrNotFound},
		{"unknown reply", SendRequest{Sender: "alice", Receiver: "bob", Text: "x", ReplyTo: 42}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.eng.Send(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	counts, err := h.db.CountPending(ctx)
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if counts.Delivered != 0 {
		t.Fatalf("rejected sends wrote %d messages", counts.Delivered)
	}

	var ve *ValidationError
	_, err = h.eng.Send(ctx, SendRequest{Sender: "alice", Receiver: "bob"})
	if !errors.As(err, &ve) || ve.Field != "text" {
		t.Fatalf("expected text validation error, got %v", err)
	}
}

func TestSendWithReplyIncludesPreview(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	b := &recConn{handle: "hb"}
	h.connect("bob", b)
	q := h.send("bob", "alice", "lunch?")
	v, err := h.eng.Send(context.Background(), SendRequest{Sender: "alice", Receiver: "bob", Text: "yes", ReplyTo: q.ID})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}
	if v.ReplyTo == nil || v.ReplyTo.ID != q.ID || v.ReplyTo.Sender != "bob" {
		t.Fatalf("missing reply preview: %+v", v)
	}
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) SweepDelivered(context.Context, string, time.Time) (int, error) {
	return 0, f.err
}

func TestConnectSweepFailureKeepsPresence(t *testing.T) {
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	boom := errors.New("disk on fire")
	eng := New(failingStore{Store: db, err: boom}, presence.NewDirectory(), presence.NewOpenChats(), nil)

	_, err = eng.Connect(context.Background(), "bob", &recConn{handle: "hb"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sweep error, got %v", err)
	}
	if _, ok := eng.Directory().Lookup("bob"); !ok {
		t.Fatalf("directory entry should survive a failed sweep")
	}
}

func TestOfflineThenOnlineScenario(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	a := &recConn{handle: "ha"}
	h.connect("alice", a)

	m := h.send("alice", "bob", "hi")
	if h.message(m.ID).State() != models.StatePending {
		t.Fatalf("expected pending while bob offline")
	}

	b := &recConn{handle: "hb"}
	h.connect("bob", b)
	if h.message(m.ID).State() != models.StateDelivered {
		t.Fatalf("expected delivered after bob connects")
	}
	if len(b.got()) != 0 {
		t.Fatalf("no retroactive push expected, got %v", b.got())
	}

	if _, err := h.eng.OpenChat(ctx, "bob", "alice"); err != nil {
		t.Fatalf("open chat: %v", err)
	}
	got := h.message(m.ID)
	if got.State() != models.StateSeen {
		t.Fatalf("expected seen after open chat")
	}
	if got.Delivered.After(got.Seen) {
		t.Fatalf("delivered after seen: %+v", got)
	}
	evs := a.got()
	if len(evs) != 1 {
		t.Fatalf("alice expected one seen event, got %v", evs)
	}
	if sm, ok := evs[0].(models.SeenMessage); !ok || sm.UserID != "bob" {
		t.Fatalf("unexpected event %#v", evs[0])
	}
}
