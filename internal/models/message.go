package models

import (
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// DefaultRoom tags public messages sent without an explicit room.
// PrivateRoom is the fixed sentinel for all private traffic.
const (
	DefaultRoom = "general"
	PrivateRoom = "private"
)

// Message is immutable once the router finalizes it. Deletion is a separate
// event; the struct itself never mutates after Save.
type Message struct {
	ID         string     `json:"id"`
	Sender     string     `json:"sender"`
	Body       string     `json:"body"`
	Room       string     `json:"room"`
	Visibility Visibility `json:"visibility"`
	Recipient  string     `json:"recipient,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsPrivate reports whether the message is two-party scoped.
func (m *Message) IsPrivate() bool {
	return m.Visibility == VisibilityPrivate
}

// Participants returns the usernames allowed to observe a private message.
// For a self-message both entries are the same name.
func (m *Message) Participants() (string, string) {
	return m.Sender, m.Recipient
}
