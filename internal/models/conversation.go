package models

import "time"

// ConversationSummary is a derived view over the private messages a user has
// exchanged with one partner. It is always recomputed from the store, never
// persisted on its own.
type ConversationSummary struct {
	Username      string    `json:"username"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	MessageCount  int64     `json:"messageCount"`
}
