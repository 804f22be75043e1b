// Package model defines the transcript and prompt data types.
package model

import "time"

// Message is one transcript entry.
type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Sender       string    `json:"sender"`
	Conversation string    `json:"conversation"`
	Scope        string    `json:"scope,omitempty"`
	SentAt       time.Time `json:"sent_at"`
	SentByUser   bool      `json:"sent_by_user"`
}

// Role tags a prompt turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged unit of dialogue sent to the LLM.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
