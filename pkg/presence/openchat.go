package presence

import (
	"sync"

	"courier/pkg/locks"
)

// OpenChats tracks the partner each user currently has focused. Open and
// Close for the same user never interleave.
type OpenChats struct {
	mu      sync.RWMutex
	partner map[string]string
	users   *locks.KeyedMutex
}

func NewOpenChats() *OpenChats {
	return &OpenChats{partner: make(map[string]string), users: locks.New()}
}

// Open records partner as user's open chat and then runs fn while still
// holding the user's lock. fn may be nil.
func (o *OpenChats) Open(user, partner string, fn func() error) error {
	unlock := o.users.Lock(user)
	defer unlock()
	o.mu.Lock()
	o.partner[user] = partner
	o.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// Close forgets user's open chat.
func (o *OpenChats) Close(user string) {
	unlock := o.users.Lock(user)
	defer unlock()
	o.mu.Lock()
	delete(o.partner, user)
	o.mu.Unlock()
}

// Partner returns the partner user has open.
func (o *OpenChats) Partner(user string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.partner[user]
	return p, ok
}
