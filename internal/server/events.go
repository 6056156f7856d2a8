// Package server defines the wire event envelopes exchanged with clients and
// shared helpers reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// BotSender is the reserved sender identity for ambient phrases injected by
// the server itself.
const BotSender = "bot"

const (
	// EventWaiting is sent once, at enqueue time, with the queue position.
	EventWaiting = "waiting"
	// EventAccepted is sent once, when a session is admitted or promoted.
	EventAccepted = "accepted"
	// EventChat carries a relayed message to every active session.
	EventChat = "chat"
	// EventRateLimited is sent only to a sender whose message was throttled.
	EventRateLimited = "rate_limited"
)

// Message represents the inbound JSON payload clients send.
type Message struct {
	Content string `json:"content"`
}

// Event is the outbound JSON envelope pushed to clients. Type selects which
// of the remaining fields are populated.
type Event struct {
	Type     string `json:"type"`
	Position int    `json:"position,omitempty"`
	Identity string `json:"identity,omitempty"`
	Content  string `json:"content,omitempty"`
	Sender   string `json:"sender,omitempty"`
	Message  string `json:"message,omitempty"`
}

// BroadcastMessage encapsulates a message being fanned out by the hub along
// with the originating session, kept for logging context. Delivery includes
// the sender; everyone sees everything.
type BroadcastMessage struct {
	Sender  *Client
	Payload []byte
}

func marshalEvent(event Event) []byte {
	payload, err := json.Marshal(event)
	if err != nil {
		// Event has no unmarshalable fields; this cannot fail.
		panic("events: marshal event: " + err.Error())
	}
	return payload
}

func waitingEvent(position int) []byte {
	return marshalEvent(Event{Type: EventWaiting, Position: position})
}

func acceptedEvent(identity string) []byte {
	return marshalEvent(Event{Type: EventAccepted, Identity: identity})
}

func chatEvent(content, sender string) []byte {
	return marshalEvent(Event{Type: EventChat, Content: content, Sender: sender})
}

func rateLimitedEvent(message string) []byte {
	return marshalEvent(Event{Type: EventRateLimited, Message: message})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
