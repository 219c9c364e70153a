// Package feed delivers accumulator account snapshots to subscribers.
//
// A Hub fans snapshots out in process and serves them over websocket; a
// Client consumes a remote Hub. Both hand out Subscriptions whose channel is
// closed when the subscription ends, so a reader can tell a finished feed
// from a quiet one.
//
// Subscribers that fall behind lose stale snapshots: only the newest
// undelivered notification is kept. Every snapshot carries the full account
// state, so nothing is lost by skipping older ones.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("feed closed")

// Level is the commitment level a notification was observed at.
type Level string

const (
	LevelProcessed Level = "processed"
	LevelConfirmed Level = "confirmed"
	LevelFinalized Level = "finalized"
)

func (l Level) rank() int {
	switch l {
	case LevelProcessed:
		return 0
	case LevelConfirmed:
		return 1
	case LevelFinalized:
		return 2
	}
	return -1
}

// Satisfies reports whether a notification at level l should reach a
// subscriber that asked for min.
func (l Level) Satisfies(min Level) bool {
	return l.rank() >= 0 && l.rank() >= min.rank()
}

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if l.rank() < 0 {
		return "", fmt.Errorf("unknown commitment level %q", s)
	}
	return l, nil
}

// Notification is one snapshot of an account.
type Notification struct {
	Account string `json:"account"`
	Level   Level  `json:"level"`
	Slot    uint64 `json:"slot"`
	Data    []byte `json:"data"`
}

// Subscription is a live stream of notifications. C is closed once the
// subscription ends for any reason.
type Subscription struct {
	C <-chan Notification

	once   sync.Once
	mu     sync.Mutex
	stop   func() bool
	cancel func()
}

func newSubscription(ch <-chan Notification, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// bind closes the subscription when ctx is done.
func (s *Subscription) bind(ctx context.Context) {
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, s.Close)
	s.mu.Unlock()
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.cancel()
	})
}

// offer delivers n without blocking, evicting the stale snapshot if the
// buffer is full. Callers must be the only sender on ch.
func offer(ch chan Notification, n Notification) {
	for {
		select {
		case ch <- n:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

type options struct {
	log    zerolog.Logger
	buffer int
}

func defaultOptions() options {
	return options{log: zerolog.Nop(), buffer: 1}
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBuffer sets the per-subscription buffer. Values below 1 are ignored.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}
