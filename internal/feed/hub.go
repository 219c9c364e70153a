package feed

import (
	"context"
	"fmt"
	"sync"
)

type subscriber struct {
	ch    chan Notification
	level Level
}

// Hub fans published snapshots out to subscribers of the same account.
type Hub struct {
	opts options

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	slot   uint64
	closed bool
}

func NewHub(opts ...Option) *Hub {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub{
		opts: o,
		subs: make(map[string]map[uint64]*subscriber),
	}
}

// Publish sends a snapshot of account to every subscriber whose level it
// satisfies. Each call advances the hub's slot counter.
func (h *Hub) Publish(account string, level Level, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.slot++
	n := Notification{Account: account, Level: level, Slot: h.slot, Data: data}
	delivered := 0
	for _, s := range h.subs[account] {
		if !level.Satisfies(s.level) {
			continue
		}
		offer(s.ch, n)
		delivered++
	}
	h.opts.log.Debug().
		Str("account", account).
		Str("level", string(level)).
		Uint64("slot", n.Slot).
		Int("subscribers", delivered).
		Msg("published snapshot")
}

// Subscribe registers for snapshots of account at level or above. The
// subscription ends when ctx is done, Close is called, or the hub closes.
func (h *Hub) Subscribe(ctx context.Context, account string, level Level) (*Subscription, error) {
	if level.rank() < 0 {
		return nil, fmt.Errorf("unknown commitment level %q", level)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	id := h.nextID
	s := &subscriber{ch: make(chan Notification, h.opts.buffer), level: level}
	if h.subs[account] == nil {
		h.subs[account] = make(map[uint64]*subscriber)
	}
	h.subs[account][id] = s
	h.mu.Unlock()

	sub := newSubscription(s.ch, func() { h.remove(account, id) })
	sub.bind(ctx)
	return sub, nil
}

func (h *Hub) remove(account string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[account][id]
	if !ok {
		return
	}
	delete(h.subs[account], id)
	if len(h.subs[account]) == 0 {
		delete(h.subs, account)
	}
	close(s.ch)
}

// Subscribers returns the number of live subscriptions on account.
func (h *Hub) Subscribers(account string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[account])
}

// Close ends every subscription. Later calls to Subscribe fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for account, subs := range h.subs {
		for id, s := range subs {
			close(s.ch)
			delete(subs, id)
		}
		delete(h.subs, account)
	}
}
