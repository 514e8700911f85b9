package presence

import (
	"sort"
	"sync"
	"testing"
	"time"

	"courier/pkg/models"
)

type stubConn struct{ handle string }

func (s stubConn) Handle() string                { return s.handle }
func (s stubConn) Deliver(models.Outbound) error { return nil }

func TestDirectoryRegisterFirst(t *testing.T) {
	d := NewDirectory()
	if !d.Register("alice", stubConn{"h1"}) {
		t.Fatalf("first registration should report first")
	}
	if d.Register("alice", stubConn{"h1"}) {
		t.Fatalf("re-registration should not report first")
	}
	if d.Register("alice", stubConn{"h2"}) {
		t.Fatalf("overwrite should not report first")
	}
	c, ok := d.Lookup("alice")
	if !ok || c.Handle() != "h2" {
		t.Fatalf("expected alice on h2, got %v %v", c, ok)
	}
	if _, ok := d.Lookup("bob"); ok {
		t.Fatalf("bob should be offline")
	}
}

func TestDirectoryStaleDisconnectKeepsFreshEntry(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", stubConn{"old"})
	d.Register("alice", stubConn{"new"})

	if got := d.Unregister("old"); len(got) != 0 {
		t.Fatalf("stale handle removed %v", got)
	}
	if c, ok := d.Lookup("alice"); !ok || c.Handle() != "new" {
		t.Fatalf("fresh registration was undone")
	}
	if got := d.Unregister("new"); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("expected alice unregistered, got %v", got)
	}
	if d.Online() != 0 {
		t.Fatalf("expected empty directory, got %d", d.Online())
	}
}

func TestDirectoryReleaseMatchesHandle(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", stubConn{"h"})
	d.Register("bob", stubConn{"h"})

	if d.Release("alice", "other") {
		t.Fatalf("release on a foreign handle must not remove alice")
	}
	if !d.Release("alice", "h") {
		t.Fatalf("expected alice released")
	}
	if _, ok := d.Lookup("alice"); ok {
		t.Fatalf("alice should be offline")
	}
	if got := d.Unregister("h"); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected only bob left on h, got %v", got)
	}
}

func TestDirectoryHandleWithSeveralUsers(t *testing.T) {
	d := NewDirectory()
	d.Register("alice", stubConn{"h"})
	d.Register("bob", stubConn{"h"})
	got := d.Unregister("h")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected unregistered users %v", got)
	}
}

func TestOpenChatsSerializesPerUser(t *testing.T) {
	o := NewOpenChats()
	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = o.Open("alice", "bob", func() error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside

	closed := make(chan struct{})
	go func() {
		o.Close("alice")
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatalf("close ran while open was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	// other users are not blocked
	if err := o.Open("carol", "dave", nil); err != nil {
		t.Fatalf("open carol: %v", err)
	}
	if p, _ := o.Partner("carol"); p != "dave" {
		t.Fatalf("expected carol->dave got %q", p)
	}

	close(release)
	<-closed
	if _, ok := o.Partner("alice"); ok {
		t.Fatalf("alice should have no open chat after close")
	}
}

func TestDirectoryConcurrentAccess(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := string(rune('a' + i))
			d.Register("user", stubConn{h})
			d.Lookup("user")
			d.Unregister(h)
		}(i)
	}
	wg.Wait()
	if d.Online() > 1 {
		t.Fatalf("single user registered more than once")
	}
}
