package models

import "encoding/json"

// Wire event names shared by client and relay. Intents flow client->relay,
// the rest are relay->client (the relay echoes intents back to the sender
// as the corresponding inbound event).
const (
	EvMessageSend    = "message:send"
	EvMessageEdit    = "message:edit"
	EvMessageDelete  = "message:delete"
	EvMessageNew     = "message:new"
	EvMessageEdited  = "message:edited"
	EvMessageDeleted = "message:deleted"
	EvMessageRead    = "message:read"
	EvTyping         = "typing"
	EvJoin           = "conversation:join"
	EvLeave          = "conversation:leave"
)

// Envelope is the framing for every websocket message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EditPayload carries an edit intent or its echo.
type EditPayload struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation_id"`
	Content      string `json:"content"`
}

// DeletePayload carries a soft-delete intent or its echo.
type DeletePayload struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation_id"`
}

// ReadPayload is the recipient-side read receipt for one message.
type ReadPayload struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation_id"`
	User         string `json:"user_id"`
}

// TypingPayload is relayed to the room, never persisted.
type TypingPayload struct {
	Conversation string `json:"conversation_id"`
	User         string `json:"user_id"`
	Typing       bool   `json:"typing"`
}

// JoinPayload subscribes or unsubscribes a connection to a logical room.
type JoinPayload struct {
	Conversation string `json:"conversation_id"`
}
