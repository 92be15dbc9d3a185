// Package presence derives online/away/offline status from device activity.
//
// A user is online while any connected device was active within AwayAfter,
// away while devices stay connected but idle, and offline once every device
// is gone or idle past OfflineAfter. Mutating calls return the status
// change they caused, if any; callers publish it.
package presence

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/junction/internal/event"
)

// Statuses.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// RestoredDevice names the device a restored snapshot is attributed to.
const RestoredDevice = "restored"

// Default thresholds.
const (
	DefaultAwayAfter    = 5 * time.Minute
	DefaultOfflineAfter = 10 * time.Minute
)

// Thresholds control idle decay.
type Thresholds struct {
	AwayAfter    time.Duration
	OfflineAfter time.Duration
}

// Status is a user's derived presence.
type Status struct {
	UserID         string    `json:"user_id"`
	Status         string    `json:"status"`
	Devices        int       `json:"devices"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type userState struct {
	devices  map[string]time.Time // device -> last activity
	lastSeen time.Time
	status   string
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userState
}

// Tracker holds presence for every user seen since start.
type Tracker struct {
	shards     []*shard
	thresholds Thresholds
	now        func() time.Time
}

// NewTracker creates a Tracker with the given number of shards. A nil clock
// uses time.Now.
func NewTracker(th Thresholds, shards int, clock func() time.Time) *Tracker {
	if th.AwayAfter <= 0 {
		th.AwayAfter = DefaultAwayAfter
	}
	if th.OfflineAfter <= 0 {
		th.OfflineAfter = DefaultOfflineAfter
	}
	if shards <= 0 {
		shards = 1
	}
	if clock == nil {
		clock = time.Now
	}
	t := &Tracker{thresholds: th, now: clock, shards: make([]*shard, shards)}
	for i := range t.shards {
		t.shards[i] = &shard{users: make(map[string]*userState)}
	}
	return t
}

func (t *Tracker) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Connect registers a device and counts as activity.
func (t *Tracker) Connect(userID, device string) (event.PresenceChanged, bool) {
	return t.update(userID, func(s *userState, now time.Time) {
		s.devices[device] = now
		s.lastSeen = now
	})
}

// Disconnect removes a device. The status recomputes from the devices that
// remain.
func (t *Tracker) Disconnect(userID, device string) (event.PresenceChanged, bool) {
	return t.update(userID, func(s *userState, now time.Time) {
		delete(s.devices, device)
	})
}

// Touch records activity. An empty device applies it to every connected
// device of the user. Only Connect registers devices: activity naming a
// device that is not connected refreshes nothing but the last-seen time.
func (t *Tracker) Touch(userID, device string) (event.PresenceChanged, bool) {
	return t.update(userID, func(s *userState, now time.Time) {
		s.lastSeen = now
		if device != "" {
			if _, ok := s.devices[device]; ok {
				s.devices[device] = now
			}
			return
		}
		for d := range s.devices {
			s.devices[d] = now
		}
	})
}

// Status returns the user's presence as of now.
func (t *Tracker) Status(userID string) Status {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.users[userID]
	if !ok {
		return Status{UserID: userID, Status: StatusOffline}
	}
	return Status{
		UserID:         userID,
		Status:         t.derive(s, t.now()),
		Devices:        len(s.devices),
		LastActivityAt: s.lastSeen,
	}
}

// Sweep applies time-driven decay as of now, drops devices idle past the
// offline threshold and returns the changes, ordered by user.
func (t *Tracker) Sweep(now time.Time) []event.PresenceChanged {
	var changes []event.PresenceChanged
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id, s := range sh.users {
			for d, at := range s.devices {
				if now.Sub(at) >= t.thresholds.OfflineAfter {
					delete(s.devices, d)
				}
			}
			if c, ok := t.settle(id, s, now); ok {
				changes = append(changes, c)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].UserID < changes[j].UserID })
	return changes
}

// Snapshot returns the state of every tracked user.
func (t *Tracker) Snapshot() []Status {
	now := t.now()
	var out []Status
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id, s := range sh.users {
			out = append(out, Status{
				UserID:         id,
				Status:         t.derive(s, now),
				Devices:        len(s.devices),
				LastActivityAt: s.lastSeen,
			})
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Restore seeds state from a snapshot taken before a restart. Users that
// had devices get a single RestoredDevice carrying their last activity, so
// they decay normally instead of starting offline.
func (t *Tracker) Restore(rows []Status) {
	now := t.now()
	for _, r := range rows {
		sh := t.shardFor(r.UserID)
		sh.mu.Lock()
		s := &userState{devices: make(map[string]time.Time), lastSeen: r.LastActivityAt}
		if r.Devices > 0 && !r.LastActivityAt.IsZero() {
			s.devices[RestoredDevice] = r.LastActivityAt
		}
		s.status = t.derive(s, now)
		sh.users[r.UserID] = s
		sh.mu.Unlock()
	}
}

func (t *Tracker) update(userID string, fn func(*userState, time.Time)) (event.PresenceChanged, bool) {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.users[userID]
	if !ok {
		s = &userState{devices: make(map[string]time.Time), status: StatusOffline}
		sh.users[userID] = s
	}
	now := t.now()
	fn(s, now)
	return t.settle(userID, s, now)
}

// settle recomputes s.status and reports a change. Caller holds the shard lock.
func (t *Tracker) settle(userID string, s *userState, now time.Time) (event.PresenceChanged, bool) {
	next := t.derive(s, now)
	if next == s.status {
		return event.PresenceChanged{}, false
	}
	prev := s.status
	s.status = next
	return event.PresenceChanged{
		UserID:         userID,
		Status:         next,
		Previous:       prev,
		Devices:        len(s.devices),
		LastActivityAt: s.lastSeen,
	}, true
}

func (t *Tracker) derive(s *userState, now time.Time) string {
	if len(s.devices) == 0 {
		return StatusOffline
	}
	var last time.Time
	for _, at := range s.devices {
		if at.After(last) {
			last = at
		}
	}
	idle := now.Sub(last)
	switch {
	case idle >= t.thresholds.OfflineAfter:
		return StatusOffline
	case idle >= t.thresholds.AwayAfter:
		return StatusAway
	default:
		return StatusOnline
	}
}
