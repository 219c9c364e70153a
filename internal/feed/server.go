package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// ServeHTTP upgrades the request to a websocket and serves subscriptions
// on it until the peer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.serveConn(&wsConn{conn: conn})
}

func (h *Hub) serveConn(c *wsConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.conn.Close()
	}()

	subs := make(map[uint64]*Subscription)
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.opts.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		switch msg.Type {
		case MsgSubscribe:
			var req SubscribeRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				h.replyError(c, msg.ID, "invalid subscribe payload")
				continue
			}
			if _, ok := subs[msg.ID]; ok {
				h.replyError(c, msg.ID, "duplicate subscription id")
				continue
			}
			sub, err := h.Subscribe(ctx, req.Account, req.Level)
			if err != nil {
				h.replyError(c, msg.ID, err.Error())
				continue
			}
			subs[msg.ID] = sub
			ack, _ := newMessage(MsgSubscribed, msg.ID, nil)
			if err := c.write(ack); err != nil {
				return
			}
			go h.forward(c, msg.ID, sub)

		case MsgUnsubscribe:
			if sub, ok := subs[msg.ID]; ok {
				sub.Close()
				delete(subs, msg.ID)
			}

		default:
			h.replyError(c, msg.ID, "unknown message type "+msg.Type)
		}
	}
}

func (h *Hub) forward(c *wsConn, id uint64, sub *Subscription) {
	for n := range sub.C {
		msg, err := newMessage(MsgNotification, id, n)
		if err != nil {
			h.opts.log.Error().Err(err).Msg("encode notification")
			continue
		}
		if err := c.write(msg); err != nil {
			sub.Close()
			return
		}
	}
}

func (h *Hub) replyError(c *wsConn, id uint64, reason string) {
	msg, _ := newMessage(MsgError, id, ErrorPayload{Error: reason})
	if err := c.write(msg); err != nil {
		h.opts.log.Debug().Err(err).Msg("write error reply")
	}
}
