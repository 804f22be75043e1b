package assembler

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/chat-relay/internal/clock"
	"github.com/rcliao/chat-relay/internal/model"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/store"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type readerFunc func(ctx context.Context, conversation string, limit int) ([]model.Message, error)

func (f readerFunc) ReadConversation(ctx context.Context, conversation string, limit int) ([]model.Message, error) {
	return f(ctx, conversation, limit)
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"),
		store.WithClock(clock.Fake(t0)), store.WithLogger(observability.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildGeneralScenario(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	_, err := s.Append(ctx, model.Message{Sender: "Alice", Conversation: "general", Content: "hi", SentByUser: true})
	require.NoError(t, err)
	_, err = s.Append(ctx, model.Message{Sender: "gpt-4o", Conversation: "general", Content: "hello"})
	require.NoError(t, err)

	a := New(s, observability.Discard())
	turns := a.Build(ctx, Request{
		Conversation: "general",
		Venue:        Venue{Channel: "general", Server: "Guild"},
		Username:     "Bob",
		Question:     "how are you",
		SystemPrompt: "You are helpful.",
		WindowSize:   3,
	})

	require.Len(t, turns, 5)
	assert.Equal(t, model.Turn{Role: model.RoleSystem, Content: "You are helpful."}, turns[0])
	assert.Equal(t, model.RoleSystem, turns[1].Role)
	assert.Contains(t, turns[1].Content, "channel general in server Guild")

	assert.Equal(t, model.RoleUser, turns[2].Role)
	assert.Contains(t, turns[2].Content, "Alice")
	assert.Contains(t, turns[2].Content, "hi")
	assert.Contains(t, turns[2].Content, "2026-10-15 12:00:00")

	assert.Equal(t, model.RoleAssistant, turns[3].Role)
	assert.Contains(t, turns[3].Content, "hello")

	assert.Equal(t, model.Turn{Role: model.RoleUser, Content: "Bob said: how are you"}, turns[4])
}

func TestBuildWindowZeroSkipsHistory(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	for i := 0; i < 5; i++ {
		s.Append(ctx, model.Message{Sender: "Alice", Conversation: "general", Content: "x", SentByUser: true})
	}

	a := New(s, observability.Discard())
	req := Request{Conversation: "general", Venue: Venue{Channel: "general"}, Username: "Alice", Question: "q", WindowSize: 3}

	assert.Len(t, a.Build(ctx, req), 2+3)

	req.WindowSize = 0
	turns := a.Build(ctx, req)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleSystem, turns[0].Role)
	assert.Equal(t, model.RoleUser, turns[1].Role)
}

func TestBuildWindowZeroDoesNotRead(t *testing.T) {
	called := false
	a := New(readerFunc(func(context.Context, string, int) ([]model.Message, error) {
		called = true
		return nil, nil
	}), observability.Discard())

	a.Build(context.Background(), Request{Conversation: "c", Username: "u", Question: "q"})
	assert.False(t, called)
}

func TestBuildDirectMessageVenue(t *testing.T) {
	a := New(readerFunc(func(context.Context, string, int) ([]model.Message, error) {
		return nil, nil
	}), observability.Discard())

	turns := a.Build(context.Background(), Request{
		Conversation: "dm-1",
		Venue:        Venue{Direct: true, User: "Alice"},
		Username:     "Alice",
		Question:     "psst",
		WindowSize:   5,
	})
	require.Len(t, turns, 2, "no system prompt, no history")
	assert.Equal(t, "You are in a direct message with user Alice.", turns[0].Content)
}

func TestBuildDegradesOnReadError(t *testing.T) {
	a := New(readerFunc(func(context.Context, string, int) ([]model.Message, error) {
		return nil, errors.New("disk on fire")
	}), observability.Discard())

	turns := a.Build(context.Background(), Request{
		Conversation: "general", Username: "Alice", Question: "q", SystemPrompt: "sys", WindowSize: 10,
	})
	require.Len(t, turns, 3)
	assert.Equal(t, "Alice said: q", turns[2].Content)
}

func TestBuildPassesWindowAsLimit(t *testing.T) {
	var gotLimit int
	var gotConversation string
	a := New(readerFunc(func(_ context.Context, conversation string, limit int) ([]model.Message, error) {
		gotConversation, gotLimit = conversation, limit
		return nil, nil
	}), observability.Discard())

	a.Build(context.Background(), Request{Conversation: "general", Username: "u", Question: "q", WindowSize: 7})
	assert.Equal(t, 7, gotLimit)
	assert.Equal(t, "general", gotConversation)
}

func TestBuildClampsOversizedWindow(t *testing.T) {
	var gotLimit int
	a := New(readerFunc(func(_ context.Context, _ string, limit int) ([]model.Message, error) {
		gotLimit = limit
		return []model.Message{{Sender: "Alice", Content: "hi", SentAt: t0, SentByUser: true}}, nil
	}), observability.Discard())

	var turns []model.Turn
	require.NotPanics(t, func() {
		turns = a.Build(context.Background(), Request{Conversation: "general", Username: "u", Question: "q", WindowSize: math.MaxInt})
	})
	assert.Equal(t, MaxWindowSize, gotLimit)
	assert.Len(t, turns, 3)
}

func TestBuildNegativeWindowSkipsHistory(t *testing.T) {
	called := false
	a := New(readerFunc(func(context.Context, string, int) ([]model.Message, error) {
		called = true
		return nil, nil
	}), observability.Discard())

	var turns []model.Turn
	require.NotPanics(t, func() {
		turns = a.Build(context.Background(), Request{Conversation: "c", Username: "u", Question: "q", WindowSize: -5})
	})
	assert.False(t, called)
	assert.Len(t, turns, 2)
}

func TestClampWindow(t *testing.T) {
	assert.Equal(t, 0, ClampWindow(-1))
	assert.Equal(t, 0, ClampWindow(math.MinInt))
	assert.Equal(t, 20, ClampWindow(20))
	assert.Equal(t, MaxWindowSize, ClampWindow(MaxWindowSize+1))
}

func TestDescribeVenue(t *testing.T) {
	assert.Equal(t, "You are in channel general.", DescribeVenue(Venue{Channel: "general"}))
	assert.Equal(t, "You are in channel general in server Guild.", DescribeVenue(Venue{Channel: "general", Server: "Guild"}))
}
