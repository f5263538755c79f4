package models

// MessageType describes how Content should be interpreted.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// MessageState tracks the lifecycle of a locally originated message.
// Remote messages enter the store directly as StateConfirmed.
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateConfirmed MessageState = "confirmed"
	StateFailed    MessageState = "failed"
)

// DeletedSentinel replaces Content on soft delete. Original content is
// discarded and not recoverable.
const DeletedSentinel = "message deleted"

// Attachment describes a file-backed message payload. URL points at the
// server-stored blob; the descriptor is returned by the upload endpoint.
type Attachment struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
}

type Message struct {
	// ID is server-assigned once persisted. Before the echo arrives a
	// locally originated message carries only ClientID.
	ID string `json:"id,omitempty"`
	// ClientID is the client-generated correlation id attached to every
	// outbound intent and echoed back by the relay. Reconciliation of an
	// optimistic entry with its echo is a direct lookup on this value.
	ClientID     string       `json:"client_id,omitempty"`
	Conversation string       `json:"conversation_id"`
	Sender       string       `json:"sender_id"`
	Content      string       `json:"content"`
	Type         MessageType  `json:"type"`
	Attachment   *Attachment  `json:"attachment,omitempty"`
	Read         bool         `json:"read,omitempty"`
	Edited       bool         `json:"edited,omitempty"`
	Deleted      bool         `json:"deleted,omitempty"`
	State        MessageState `json:"state,omitempty"`
	// CreatedAt is a unix-nanosecond timestamp. Assigned optimistically at
	// the client and corrected from the server echo.
	CreatedAt int64 `json:"created_at"`
	// DeletedAt is set on the tombstone version when a message is soft
	// deleted. Retention measures deletion age against it.
	DeletedAt int64 `json:"deleted_at,omitempty"`
}
