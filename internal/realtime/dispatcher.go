package realtime

import (
	"errors"
	"hash/fnv"
	"log"
	"sync"

	"github.com/zulandar/junction/internal/event"
)

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]Session // user -> session id -> session
}

// Dispatcher is the registry of connected sessions. Users are spread over
// shards, each with its own lock, so unrelated users never contend.
type Dispatcher struct {
	shards []*shard
}

// NewDispatcher creates a Dispatcher with the given number of shards.
func NewDispatcher(shards int) *Dispatcher {
	if shards <= 0 {
		shards = 1
	}
	d := &Dispatcher{shards: make([]*shard, shards)}
	for i := range d.shards {
		d.shards[i] = &shard{users: make(map[string]map[string]Session)}
	}
	return d
}

func (d *Dispatcher) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Register adds a session. A user may hold any number of sessions.
func (d *Dispatcher) Register(s Session) {
	sh := d.shardFor(s.UserID())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set := sh.users[s.UserID()]
	if set == nil {
		set = make(map[string]Session)
		sh.users[s.UserID()] = set
	}
	set[s.ID()] = s
}

// Unregister removes a session and reports whether it was registered.
func (d *Dispatcher) Unregister(s Session) bool {
	sh := d.shardFor(s.UserID())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set := sh.users[s.UserID()]
	if _, ok := set[s.ID()]; !ok {
		return false
	}
	delete(set, s.ID())
	if len(set) == 0 {
		delete(sh.users, s.UserID())
	}
	return true
}

// Sessions returns the sessions currently registered for userID.
func (d *Dispatcher) Sessions(userID string) []Session {
	sh := d.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	set := sh.users[userID]
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Connected returns the number of sessions registered for userID.
func (d *Dispatcher) Connected(userID string) int {
	sh := d.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.users[userID])
}

// BroadcastMessage delivers a new message to every session of every
// recipient, the sender's other devices included. It returns the number
// of sessions that accepted the event.
func (d *Dispatcher) BroadcastMessage(e event.MessageCreated, recipients []string) int {
	return d.deliver(e, recipients)
}

// BroadcastReadReceipt delivers a read receipt to every session of every
// recipient.
func (d *Dispatcher) BroadcastReadReceipt(e event.ReadReceiptCreated, recipients []string) int {
	return d.deliver(e, recipients)
}

// BroadcastPresence delivers a presence change to every session of every
// recipient.
func (d *Dispatcher) BroadcastPresence(e event.PresenceChanged, recipients []string) int {
	return d.deliver(e, recipients)
}

func (d *Dispatcher) deliver(e event.Event, recipients []string) int {
	delivered := 0
	seen := make(map[string]bool, len(recipients))
	for _, user := range recipients {
		if seen[user] {
			continue
		}
		seen[user] = true
		for _, s := range d.Sessions(user) {
			err := s.Send(e)
			if err == nil {
				delivered++
				continue
			}
			log.Printf("realtime: drop %s for session %s: %v", e.Kind(), s.ID(), err)
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrBufferFull) {
				d.Unregister(s)
			}
		}
	}
	return delivered
}

// Close closes and forgets every session.
func (d *Dispatcher) Close() {
	var all []Session
	for _, sh := range d.shards {
		sh.mu.Lock()
		for _, set := range sh.users {
			for _, s := range set {
				all = append(all, s)
			}
		}
		sh.users = make(map[string]map[string]Session)
		sh.mu.Unlock()
	}
	for _, s := range all {
		s.Close()
	}
}
