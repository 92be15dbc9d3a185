// Package realtime fans events out to connected client sessions.
//
// Delivery is best effort and at most once: a session whose buffer is full
// or that has closed misses the event, and clients reconcile through
// message history on reconnect.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/zulandar/junction/internal/event"
)

var (
	// ErrClosed is returned by Send on a closed session.
	ErrClosed = errors.New("realtime: session closed")
	// ErrBufferFull is returned by Send when the client is not keeping up.
	ErrBufferFull = errors.New("realtime: session buffer full")
)

// Session is one connected client device.
type Session interface {
	ID() string
	UserID() string
	Device() string
	Send(e event.Event) error
	Close()
}

// ChannelSession delivers events into a buffered channel. It backs the SSE
// endpoint and lets tests wait for a specific event.
type ChannelSession struct {
	id     string
	user   string
	device string
	ch     chan event.Event
	once   sync.Once
	done   chan struct{}
}

// NewChannelSession creates a session buffering up to buffer events.
func NewChannelSession(userID, device string, buffer int) *ChannelSession {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSession{
		id:     uuid.NewString(),
		user:   userID,
		device: device,
		ch:     make(chan event.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *ChannelSession) ID() string     { return s.id }
func (s *ChannelSession) UserID() string { return s.user }
func (s *ChannelSession) Device() string { return s.device }

// Send enqueues e without blocking. A full buffer closes the session so
// its reader stops and the client reconnects.
func (s *ChannelSession) Send(e event.Event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.ch <- e:
		return nil
	default:
		s.Close()
		return ErrBufferFull
	}
}

// Close marks the session closed. Buffered events stay readable.
func (s *ChannelSession) Close() {
	s.once.Do(func() { close(s.done) })
}

// Events returns the delivery channel.
func (s *ChannelSession) Events() <-chan event.Event { return s.ch }

// Done is closed once the session is closed.
func (s *ChannelSession) Done() <-chan struct{} { return s.done }

// Await returns the next event of the given kind, discarding others, or
// the context error.
func (s *ChannelSession) Await(ctx context.Context, kind event.Kind) (event.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e := <-s.ch:
			if e.Kind() == kind {
				return e, nil
			}
		}
	}
}

// Pending returns how many events are buffered.
func (s *ChannelSession) Pending() int { return len(s.ch) }
