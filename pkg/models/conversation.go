package models

// Conversation is collaborator-owned metadata consumed read-only by the
// synchronization core. Online status is refreshed out-of-band.
type Conversation struct {
	ID        string `json:"id"`
	Peer      string `json:"peer_id"`
	Online    bool   `json:"online,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}
