package transactions

import (
	"errors"
	"fmt"
)

var ErrMalformedEnvelope = errors.New("malformed transaction envelope")

// Envelope is the serialized form of a Transaction. Exactly one of Topup
// and Send is set, matching Kind.
type Envelope struct {
	Kind  Kind   `json:"kind"`
	Topup *Topup `json:"topup,omitempty"`
	Send  *Send  `json:"send,omitempty"`
}

// Wrap boxes tx for persistence.
func Wrap(tx Transaction) Envelope {
	switch v := tx.(type) {
	case *Topup:
		return Envelope{Kind: KindTopup, Topup: v}
	case *Send:
		return Envelope{Kind: KindSend, Send: v}
	}
	return Envelope{}
}

// Transaction unboxes the envelope.
func (e Envelope) Transaction() (Transaction, error) {
	switch e.Kind {
	case KindTopup:
		if e.Topup == nil || e.Send != nil {
			return nil, fmt.Errorf("%w: kind %s", ErrMalformedEnvelope, e.Kind)
		}
		return e.Topup, nil
	case KindSend:
		if e.Send == nil || e.Topup != nil {
			return nil, fmt.Errorf("%w: kind %s", ErrMalformedEnvelope, e.Kind)
		}
		return e.Send, nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrMalformedEnvelope, e.Kind)
}
