// Package subscription implements the WebSocket Subscription Engine
// (spec.md §4.I): per-connection reader/writer goroutines, server-side
// filter matching, backpressure-drop-on-full-queue, heartbeat, and a
// durable subscription store, grounded on the teacher's handler-envelope
// idiom (pkg/server/proof_handlers.go) and its repository-per-entity
// pattern for the durable store.
package subscription

import (
	"encoding/json"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

// MessageType tags the WebSocket message taxonomy's variants.
type MessageType string

const (
	MsgSubscribe    MessageType = "subscribe"
	MsgUnsubscribe  MessageType = "unsubscribe"
	MsgEvent        MessageType = "event"
	MsgError        MessageType = "error"
	MsgPing         MessageType = "ping"
	MsgPong         MessageType = "pong"
	MsgAuth         MessageType = "auth"
	MsgAuthResponse MessageType = "auth_response"
)

// Envelope is the wire shape every message is wrapped in; Payload holds
// the type-specific body, deferred decoded once Type is known.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribePayload requests a new subscription with optional filters and
// a delivery limit.
type SubscribePayload struct {
	ID      string       `json:"id"`
	Filters event.Filter `json:"filters"`
	Limit   int          `json:"limit,omitempty"`
}

// UnsubscribePayload deactivates an existing subscription.
type UnsubscribePayload struct {
	ID string `json:"id"`
}

// EventPayload delivers a matched event to its subscription.
type EventPayload struct {
	SubscriptionID string      `json:"subscription_id"`
	Event          event.Event `json:"event"`
}

// ErrorPayload reports a per-connection or per-subscription error.
type ErrorPayload struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PingPayload/PongPayload carry the heartbeat timestamp.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// AuthPayload carries a bearer token for in-band WebSocket auth.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthResponsePayload reports the outcome of an AuthPayload.
type AuthResponsePayload struct {
	Authenticated bool   `json:"authenticated"`
	User          string `json:"user,omitempty"`
	Role          string `json:"role,omitempty"`
}

func encode(t MessageType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: body})
}
