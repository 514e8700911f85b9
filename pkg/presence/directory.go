package presence

import (
	"sync"

	"courier/pkg/models"
)

// Conn is one live connection that can receive outbound events.
type Conn interface {
	// Handle identifies the connection. Two Conns with the same handle are
	// the same connection.
	Handle() string
	Deliver(ev models.Outbound) error
}

// Directory maps users to their live connection. A user has at most one
// connection; registering again replaces it.
type Directory struct {
	mu       sync.RWMutex
	byUser   map[string]Conn
	byHandle map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		byUser:   make(map[string]Conn),
		byHandle: make(map[string]map[string]struct{}),
	}
}

// Register binds user to conn, overwriting any previous connection. first
// is true when the user had no entry before this call.
func (d *Directory) Register(user string, conn Conn) (first bool) {
	handle := conn.Handle()
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.byUser[user]
	if ok && prev.Handle() != handle {
		d.dropIndex(prev.Handle(), user)
	}
	d.byUser[user] = conn
	users := d.byHandle[handle]
	if users == nil {
		users = make(map[string]struct{})
		d.byHandle[handle] = users
	}
	users[user] = struct{}{}
	return !ok
}

// Lookup returns the connection of user, if online.
func (d *Directory) Lookup(user string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byUser[user]
	return c, ok
}

// Unregister removes every user currently bound to handle and returns them.
// Users that have since re-registered on a different handle are untouched.
func (d *Directory) Unregister(handle string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := d.byHandle[handle]
	delete(d.byHandle, handle)
	out := make([]string, 0, len(users))
	for u := range users {
		if c, ok := d.byUser[u]; ok && c.Handle() == handle {
			delete(d.byUser, u)
			out = append(out, u)
		}
	}
	return out
}

// Release removes user only while it is still bound to handle. It reports
// whether an entry was removed.
func (d *Directory) Release(user, handle string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byUser[user]
	if !ok || c.Handle() != handle {
		return false
	}
	delete(d.byUser, user)
	d.dropIndex(handle, user)
	return true
}

// Online returns the number of registered users.
func (d *Directory) Online() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser)
}

func (d *Directory) dropIndex(handle, user string) {
	users := d.byHandle[handle]
	delete(users, user)
	if len(users) == 0 {
		delete(d.byHandle, handle)
	}
}
