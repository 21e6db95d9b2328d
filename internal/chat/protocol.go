package chat

import (
	"chat-service/internal/models"
)

// CommandType enumerates the frames a client may send over its connection.
type CommandType string

const (
	CmdJoin          CommandType = "join"
	CmdSendPublic    CommandType = "send_public"
	CmdSendPrivate   CommandType = "send_private"
	CmdDeleteMessage CommandType = "delete_message"
	CmdClearAll      CommandType = "clear_all"
)

// Command is the single inbound frame shape; fields are populated per type.
type Command struct {
	Type      CommandType `json:"type"`
	Username  string      `json:"username,omitempty"`
	Body      string      `json:"body,omitempty"`
	Room      string      `json:"room,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
	ID        string      `json:"id,omitempty"`
}

// EventType enumerates the frames the server pushes to clients.
type EventType string

const (
	EvtRosterChanged  EventType = "roster_changed"
	EvtUserJoined     EventType = "user_joined"
	EvtUserLeft       EventType = "user_left"
	EvtPublicMessage  EventType = "public_message"
	EvtPrivateMessage EventType = "private_message"
	EvtMessageDeleted EventType = "message_deleted"
	EvtAllCleared     EventType = "all_cleared"
	EvtHistory        EventType = "history"
	EvtPrivateHistory EventType = "private_history"
	EvtError          EventType = "error"
)

// Event is the single outbound frame shape; fields are populated per type.
type Event struct {
	Type     EventType         `json:"type"`
	Users    []string          `json:"users,omitempty"`
	Username string            `json:"username,omitempty"`
	Message  *models.Message   `json:"message,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`
	ID       string            `json:"id,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// messageEvent wraps a finalized message in the event frame matching its
// visibility. Used by the dispatcher so direct and relayed deliveries produce
// identical client-visible frames.
func messageEvent(m *models.Message) *Event {
	t := EvtPublicMessage
	if m.IsPrivate() {
		t = EvtPrivateMessage
	}
	return &Event{Type: t, Message: m}
}
