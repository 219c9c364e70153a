package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Client subscribes to a remote Hub over websocket.
type Client struct {
	opts options
	ws   *wsConn
	done chan struct{}

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Notification
	acks   map[uint64]chan error
	closed bool
}

// Dial connects to a Hub served at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect websocket: %w", err)
	}
	c := &Client{
		opts: o,
		ws:   &wsConn{conn: conn},
		done: make(chan struct{}),
		subs: make(map[uint64]chan Notification),
		acks: make(map[uint64]chan error),
	}
	go c.listen()
	return c, nil
}

// Subscribe asks the hub for snapshots of account and waits for the
// acknowledgement.
func (c *Client) Subscribe(ctx context.Context, account string, level Level) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Notification, c.opts.buffer)
	ack := make(chan error, 1)
	c.subs[id] = ch
	c.acks[id] = ack
	c.mu.Unlock()

	msg, err := newMessage(MsgSubscribe, id, SubscribeRequest{Account: account, Level: level})
	if err == nil {
		err = c.ws.write(msg)
	}
	if err == nil {
		select {
		case err = <-ack:
		case <-ctx.Done():
			err = ctx.Err()
		case <-c.done:
			err = ErrClosed
		}
	}
	if err != nil {
		c.drop(id, false)
		return nil, err
	}

	sub := newSubscription(ch, func() { c.drop(id, true) })
	sub.bind(ctx)
	return sub, nil
}

// drop forgets subscription id and closes its channel.
func (c *Client) drop(id uint64, notify bool) {
	c.mu.Lock()
	ch, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		close(ch)
	}
	delete(c.acks, id)
	closed := c.closed
	c.mu.Unlock()

	if ok && notify && !closed {
		msg, _ := newMessage(MsgUnsubscribe, id, nil)
		if err := c.ws.write(msg); err != nil {
			c.opts.log.Debug().Err(err).Uint64("id", id).Msg("unsubscribe")
		}
	}
}

func (c *Client) listen() {
	defer c.shutdown()
	for {
		var msg Message
		if err := c.ws.conn.ReadJSON(&msg); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				c.opts.log.Debug().Err(err).Msg("feed connection ended")
			}
			return
		}

		switch msg.Type {
		case MsgSubscribed:
			c.resolve(msg.ID, nil)

		case MsgError:
			var p ErrorPayload
			_ = json.Unmarshal(msg.Payload, &p)
			c.resolve(msg.ID, fmt.Errorf("feed: %s", p.Error))

		case MsgNotification:
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				c.opts.log.Warn().Err(err).Msg("malformed notification")
				continue
			}
			c.mu.Lock()
			if ch, ok := c.subs[msg.ID]; ok {
				offer(ch, n)
			}
			c.mu.Unlock()

		default:
			c.opts.log.Warn().Str("type", msg.Type).Msg("unknown message type")
		}
	}
}

func (c *Client) resolve(id uint64, err error) {
	c.mu.Lock()
	ack, ok := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if ok {
		ack <- err
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.acks = make(map[uint64]chan error)
	c.mu.Unlock()
	close(c.done)
}

// Close disconnects and ends every subscription.
func (c *Client) Close() error {
	err := c.ws.conn.Close()
	<-c.done
	return err
}
