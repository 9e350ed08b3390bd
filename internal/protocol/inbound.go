// ABOUTME: Client-to-gateway events decoded from text frames
// ABOUTME: Closed set of variants; unknown tags are decode errors

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors. Both map to CloseInvalidPayload.
var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Inbound is one decoded client event. The concrete type is one of
// Identify, Ping, or Pong.
type Inbound interface {
	EventName() string
	inbound()
}

// Identify is the mandatory first event of every connection.
type Identify struct {
	Token   string
	Intents Intents
}

// Ping asks the gateway for a Pong reply.
type Ping struct{}

// Pong acknowledges a gateway Ping.
type Pong struct{}

func (Identify) EventName() string { return "Identify" }
func (Ping) EventName() string     { return "Ping" }
func (Pong) EventName() string     { return "Pong" }

func (Identify) inbound() {}
func (Ping) inbound()     {}
func (Pong) inbound()     {}

type inboundWire struct {
	Event   string   `json:"event"`
	Token   *string  `json:"token"`
	Intents *Intents `json:"intents"`
}

// DecodeInbound parses one text frame into an Inbound event.
func DecodeInbound(data []byte) (Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch w.Event {
	case "Identify":
		if w.Token == nil {
			return nil, fmt.Errorf("%w: Identify requires token", ErrInvalidPayload)
		}
		ev := Identify{Token: *w.Token}
		if w.Intents != nil {
			ev.Intents = *w.Intents
		}
		return ev, nil
	case "Ping":
		return Ping{}, nil
	case "Pong":
		return Pong{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing event tag", ErrInvalidPayload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Event)
	}
}

// EncodeInbound renders an inbound event in wire form. Used by clients and tests.
func EncodeInbound(ev Inbound) ([]byte, error) {
	w := inboundWire{Event: ev.EventName()}
	if id, ok := ev.(Identify); ok {
		w.Token = &id.Token
		w.Intents = &id.Intents
	}
	return json.Marshal(w)
}
