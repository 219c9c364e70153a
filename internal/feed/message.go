package feed

import "encoding/json"

// Message types exchanged over websocket.
const (
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
	MsgSubscribed   = "subscribed"
	MsgNotification = "notification"
	MsgError        = "error"
)

// Message is the generic envelope for anything sent over the websocket.
// ID ties responses and notifications to the subscribe request.
type Message struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest is the payload of a subscribe message.
type SubscribeRequest struct {
	Account string `json:"account"`
	Level   Level  `json:"level"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Error string `json:"error"`
}

func newMessage(typ string, id uint64, payload any) (Message, error) {
	msg := Message{Type: typ, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return msg, err
		}
		msg.Payload = raw
	}
	return msg, nil
}
