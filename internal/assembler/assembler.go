// Package assembler builds the ordered prompt context for a completion
// request from the system prompt, the venue and recent transcript.
package assembler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcliao/chat-relay/internal/model"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/store"
)

// timestampLayout renders history timestamps for the model.
const timestampLayout = "2006-01-02 15:04:05 MST"

// MaxWindowSize is the largest number of prior messages a context carries.
const MaxWindowSize = 200

// Venue describes where the current message was sent.
type Venue struct {
	Direct  bool
	User    string // DM partner, when Direct
	Channel string
	Server  string
}

// Request holds the inputs of one Build call.
type Request struct {
	Conversation string
	Venue        Venue
	Username     string
	Question     string
	SystemPrompt string
	WindowSize   int
}

// Assembler reads recent history from a store.Reader. It never writes.
type Assembler struct {
	history store.Reader
	log     *slog.Logger
}

// New returns an Assembler reading from history.
func New(history store.Reader, log *slog.Logger) *Assembler {
	if log == nil {
		log = observability.Logger()
	}
	return &Assembler{history: history, log: log}
}

// Build returns the turns for a completion request: the system prompt
// (if any), a venue turn, up to WindowSize prior messages oldest first,
// then the current question. WindowSize is clamped to [0, MaxWindowSize].
// If history cannot be read the context is built without it.
func (a *Assembler) Build(ctx context.Context, req Request) []model.Turn {
	var history []model.Message
	if window := ClampWindow(req.WindowSize); window > 0 {
		var err error
		history, err = a.history.ReadConversation(ctx, req.Conversation, window)
		if err != nil {
			a.log.Warn("history unavailable, building context without it",
				"conversation", req.Conversation, "error", err)
			history = nil
		}
	}

	turns := make([]model.Turn, 0, len(history)+3)
	if req.SystemPrompt != "" {
		turns = append(turns, model.Turn{Role: model.RoleSystem, Content: req.SystemPrompt})
	}
	turns = append(turns, model.Turn{Role: model.RoleSystem, Content: DescribeVenue(req.Venue)})
	for _, m := range history {
		turns = append(turns, historyTurn(m))
	}

	turns = append(turns, model.Turn{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("%s said: %s", req.Username, req.Question),
	})
	return turns
}

// DescribeVenue renders the "where am I" system turn.
func DescribeVenue(v Venue) string {
	if v.Direct {
		return fmt.Sprintf("You are in a direct message with user %s.", v.User)
	}
	if v.Server == "" {
		return fmt.Sprintf("You are in channel %s.", v.Channel)
	}
	return fmt.Sprintf("You are in channel %s in server %s.", v.Channel, v.Server)
}

func historyTurn(m model.Message) model.Turn {
	at := m.SentAt.UTC().Format(timestampLayout)
	if !m.SentByUser {
		return model.Turn{
			Role:    model.RoleAssistant,
			Content: fmt.Sprintf("(%s at %s) %s", m.Sender, at, m.Content),
		}
	}
	return model.Turn{
		Role:    model.RoleUser,
		Content: fmt.Sprintf("%s at %s said: %s", m.Sender, at, m.Content),
	}
}

// ClampWindow bounds n to [0, MaxWindowSize].
func ClampWindow(n int) int {
	return min(max(n, 0), MaxWindowSize)
}
