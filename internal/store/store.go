// Package store provides the transcript store interface and SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/rcliao/chat-relay/internal/model"
)

const (
	// MaxMessagesPerUser is how many records are kept per (sender, conversation) pair.
	MaxMessagesPerUser = 20
	// MaxMessageAgeDays is the age after which records are deleted.
	MaxMessageAgeDays = 2
)

// Retention bounds the records kept per (sender, conversation) pair.
// A zero field disables that rule.
type Retention struct {
	MaxPerPair int
	MaxAge     time.Duration
}

// DefaultRetention returns the 20 message / 2 day policy.
func DefaultRetention() Retention {
	return Retention{
		MaxPerPair: MaxMessagesPerUser,
		MaxAge:     MaxMessageAgeDays * 24 * time.Hour,
	}
}

// Reader reads conversation history.
type Reader interface {
	// ReadConversation returns up to limit of the most recent messages
	// for the conversation, oldest first.
	ReadConversation(ctx context.Context, conversation string, limit int) ([]model.Message, error)
}

// Appender records transcript messages.
type Appender interface {
	// Append stores msg, then enforces retention for its
	// (sender, conversation) pair. The store assigns ID and SentAt; any
	// values on msg are ignored. Retention failures are logged, not
	// returned.
	Append(ctx context.Context, msg model.Message) (*model.Message, error)
}

// Store defines the transcript storage interface.
type Store interface {
	Reader
	Appender

	// EnforceRetention applies the count and age rules to one pair and
	// returns how many records were removed.
	EnforceRetention(ctx context.Context, sender, conversation string) (int64, error)

	// SweepAll enforces retention for every pair in the store.
	SweepAll(ctx context.Context) (int64, error)

	// Clear deletes every record.
	Clear(ctx context.Context) (int64, error)

	// Tally returns the in-memory running statistics.
	Tally() *Tally

	// Close closes the store.
	Close() error
}
