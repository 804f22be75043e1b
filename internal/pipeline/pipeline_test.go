package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/chat-relay/internal/assembler"
	"github.com/rcliao/chat-relay/internal/clock"
	"github.com/rcliao/chat-relay/internal/gate"
	"github.com/rcliao/chat-relay/internal/llm"
	"github.com/rcliao/chat-relay/internal/model"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/store"
)

var testStart = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	sent   []string
	failAt int // 1-based; 0 never fails
}

func (r *recorder) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		return errors.New("transport closed")
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type scripted struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
	turns  [][]model.Turn
	ctxErr error
}

func (s *scripted) Complete(ctx context.Context, _ string, turns []model.Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.turns = append(s.turns, turns)
	s.ctxErr = ctx.Err()
	return s.answer, s.err
}

// blockingCompleter holds any question ending in "first" until release is
// closed.
type blockingCompleter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCompleter) Complete(_ context.Context, _ string, turns []model.Turn) (string, error) {
	if strings.HasSuffix(turns[len(turns)-1].Content, "first") {
		close(b.entered)
		<-b.release
	}
	return "ok", nil
}

type harness struct {
	store     *store.SQLiteStore
	gate      *gate.Gate
	clock     *clock.FakeClock
	persister *Persister
	llm       *scripted
	orch      *Orchestrator
}

func newHarness(t *testing.T, settings Settings, maxUnit int) *harness {
	t.Helper()
	c := clock.Fake(testStart)
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"),
		store.WithClock(c), store.WithLogger(observability.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{store: s, gate: gate.New(c), clock: c, llm: &scripted{answer: "ok"}}
	h.persister = NewPersister(s, 16, observability.Discard())
	t.Cleanup(h.persister.Close)
	h.orch = New(Deps{
		Gate:        h.gate,
		Assembler:   assembler.New(s, observability.Discard()),
		Completer:   h.llm,
		Persister:   h.persister,
		Settings:    NewSettingsHandle(settings),
		Logger:      observability.Discard(),
		MaxUnitSize: maxUnit,
	})
	return h
}

// flush waits for queued transcript writes.
func (h *harness) flush() { h.persister.Close() }

func inbound(user, text string) Inbound {
	return Inbound{
		UserID:       "1001",
		Username:     user,
		Conversation: "general",
		Scope:        "guild-1",
		Venue:        assembler.Venue{Channel: "general", Server: "Guild"},
		Text:         text,
	}
}

func TestHandleDeliversChunksInOrderAndPersists(t *testing.T) {
	h := newHarness(t, Settings{SystemPrompt: "be nice", WindowSize: 5, Model: "gpt-test"}, 4)
	h.llm.answer = "abcdefghij"
	out := &recorder{}

	got := h.orch.Handle(context.Background(), inbound("Alice", "hello"), out)
	require.Equal(t, Delivered, got.State)
	assert.Equal(t, 3, got.Chunks)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, out.messages())
	assert.Equal(t, 1, h.llm.calls)

	h.flush()
	msgs, err := h.store.ReadConversation(context.Background(), "general", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Alice", msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.True(t, msgs[0].SentByUser)
	assert.Equal(t, "gpt-test", msgs[1].Sender)
	assert.Equal(t, "abcdefghij", msgs[1].Content)
	assert.False(t, msgs[1].SentByUser)
	assert.Equal(t, "guild-1", msgs[1].Scope)
}

func TestHandleDeniedTimedOut(t *testing.T) {
	h := newHarness(t, Settings{WindowSize: 5, Model: "m"}, 0)
	until, err := h.gate.SetTimeout("1001", 10*time.Minute)
	require.NoError(t, err)
	out := &recorder{}

	got := h.orch.Handle(context.Background(), inbound("Alice", "hi"), out)
	assert.Equal(t, DeniedAtGate, got.State)
	assert.Equal(t, gate.DeniedTimedOut, got.Decision.Kind)
	assert.True(t, got.Decision.Until.Equal(until))
	assert.Equal(t, []string{DenialNotice(got.Decision)}, out.messages())
	assert.Zero(t, h.llm.calls)

	h.flush()
	msgs, err := h.store.ReadConversation(context.Background(), "general", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandleQuotaExhausted(t *testing.T) {
	h := newHarness(t, Settings{Model: "m"}, 0)
	require.NoError(t, h.gate.SetQuota("1001", 1))

	first := h.orch.Handle(context.Background(), inbound("Alice", "one"), &recorder{})
	assert.Equal(t, Delivered, first.State)

	out := &recorder{}
	second := h.orch.Handle(context.Background(), inbound("Alice", "two"), out)
	assert.Equal(t, DeniedAtGate, second.State)
	assert.Equal(t, gate.DeniedQuotaExhausted, second.Decision.Kind)
	assert.Equal(t, []string{"Sorry, you have used up your message quota."}, out.messages())
	assert.Equal(t, 1, h.llm.calls)
}

func TestHandleCompletionFailureNotPersisted(t *testing.T) {
	for name, tc := range map[string]struct {
		answer string
		err    error
	}{
		"error": {err: errors.New("upstream 500")},
		"blank": {answer: "  \n "},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Settings{WindowSize: 5, Model: "m"}, 0)
			h.llm.answer, h.llm.err = tc.answer, tc.err
			out := &recorder{}

			got := h.orch.Handle(context.Background(), inbound("Alice", "hi"), out)
			assert.Equal(t, Failed, got.State)
			assert.Equal(t, ReasonCompletion, got.Reason)
			assert.Equal(t, []string{FailureNotice}, out.messages())
			assert.Equal(t, 1, h.llm.calls)

			h.flush()
			msgs, err := h.store.ReadConversation(context.Background(), "general", 10)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestHandleDeliveryFailureStops(t *testing.T) {
	h := newHarness(t, Settings{Model: "m"}, 2)
	h.llm.answer = "aabbccdd"
	out := &recorder{failAt: 2}

	got := h.orch.Handle(context.Background(), inbound("Alice", "hi"), out)
	assert.Equal(t, Failed, got.State)
	assert.Equal(t, ReasonDelivery, got.Reason)
	assert.Equal(t, 1, got.Chunks)
	assert.Equal(t, []string{"aa"}, out.messages())

	h.flush()
	msgs, err := h.store.ReadConversation(context.Background(), "general", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "transcript is handed off before delivery")
}

func TestHandleUsesHistoryWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{SystemPrompt: "sys", WindowSize: 3, Model: "m"}, 0)
	for i := 0; i < 5; i++ {
		_, err := h.store.Append(ctx, model.Message{
			Sender: "Bob", Conversation: "general", Content: fmt.Sprintf("old %d", i), SentByUser: true,
		})
		require.NoError(t, err)
	}

	h.orch.Handle(ctx, inbound("Alice", "q1"), &recorder{})
	require.Len(t, h.llm.turns, 1)
	turns := h.llm.turns[0]
	// system prompt, venue, 3 history, question
	require.Len(t, turns, 6)
	assert.Equal(t, "sys", turns[0].Content)
	assert.Contains(t, turns[2].Content, "old 2")
	assert.Contains(t, turns[4].Content, "old 4")
	assert.Equal(t, "Alice said: q1", turns[5].Content)

	h.orch.Settings().Update(func(s Settings) Settings {
		s.WindowSize = 0
		return s
	})
	h.orch.Handle(ctx, inbound("Alice", "q2"), &recorder{})
	require.Len(t, h.llm.turns, 2)
	turns = h.llm.turns[1]
	require.Len(t, turns, 3)
	assert.Equal(t, "Alice said: q2", turns[2].Content)
}

func TestHandleBlankSkipsPromptAndHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{SystemPrompt: "sys", WindowSize: 10, Model: "m"}, 0)
	_, err := h.store.Append(ctx, model.Message{Sender: "Bob", Conversation: "general", Content: "old", SentByUser: true})
	require.NoError(t, err)

	in := inbound("Alice", "plain")
	in.Blank = true
	got := h.orch.Handle(ctx, in, &recorder{})
	require.Equal(t, Delivered, got.State)

	turns := h.llm.turns[0]
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleSystem, turns[0].Role)
	assert.NotEqual(t, "sys", turns[0].Content)
	assert.Equal(t, model.RoleUser, turns[1].Role)
}

func TestHandleIgnoresInboundCancellation(t *testing.T) {
	h := newHarness(t, Settings{Model: "m"}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := h.orch.Handle(ctx, inbound("Alice", "hi"), &recorder{})
	assert.Equal(t, Delivered, got.State)
	assert.NoError(t, h.llm.ctxErr)
}

func TestHandleConcurrentQuota(t *testing.T) {
	h := newHarness(t, Settings{Model: "m"}, 0)
	require.NoError(t, h.gate.SetQuota("1001", 5))

	var delivered, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := h.orch.Handle(context.Background(), inbound("Alice", fmt.Sprintf("q%d", i)), &recorder{})
			switch got.State {
			case Delivered:
				delivered.Add(1)
			case DeniedAtGate:
				denied.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), delivered.Load())
	assert.Equal(t, int32(15), denied.Load())
}

func TestHandleTranscriptTimesFollowWriteOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Settings{Model: "m"}, 0)
	llmStub := &blockingCompleter{entered: make(chan struct{}), release: make(chan struct{})}
	orch := New(Deps{
		Gate:      h.gate,
		Assembler: assembler.New(h.store, observability.Discard()),
		Completer: llmStub,
		Persister: h.persister,
		Settings:  NewSettingsHandle(Settings{Model: "m"}),
		Logger:    observability.Discard(),
	})

	done := make(chan Outcome, 1)
	go func() { done <- orch.Handle(ctx, inbound("Alice", "first"), &recorder{}) }()
	<-llmStub.entered

	h.clock.Advance(time.Minute)
	require.Equal(t, Delivered, orch.Handle(ctx, inbound("Alice", "second"), &recorder{}).State)
	close(llmStub.release)
	require.Equal(t, Delivered, (<-done).State)
	h.flush()

	msgs, err := h.store.ExportAll(ctx, "general")
	require.NoError(t, err)
	var alice []model.Message
	for _, m := range msgs {
		if m.Sender == "Alice" {
			alice = append(alice, m)
		}
	}
	require.Len(t, alice, 2)
	assert.Equal(t, "second", alice[0].Content)
	assert.Equal(t, "first", alice[1].Content)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt),
			"sent_at decreased at %d: %v after %v", i, msgs[i].SentAt, msgs[i-1].SentAt)
	}
}

func TestHandleOversizedWindow(t *testing.T) {
	h := newHarness(t, Settings{WindowSize: math.MaxInt, Model: "m"}, 0)
	var got Outcome
	require.NotPanics(t, func() {
		got = h.orch.Handle(context.Background(), inbound("Alice", "hi"), &recorder{})
	})
	assert.Equal(t, Delivered, got.State)
}

func TestHandleLogsRequestID(t *testing.T) {
	h := newHarness(t, Settings{Model: "m"}, 0)
	var logs bytes.Buffer
	h.llm.err = errors.New("upstream down")
	orch := New(Deps{
		Gate:      h.gate,
		Assembler: assembler.New(h.store, observability.Discard()),
		Completer: h.llm,
		Persister: h.persister,
		Settings:  NewSettingsHandle(Settings{Model: "m"}),
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	ctx := observability.WithRequestID(context.Background(), "req-42")
	got := orch.Handle(ctx, inbound("Alice", "hi"), &recorder{})
	require.Equal(t, Failed, got.State)
	assert.Contains(t, logs.String(), `"request_id":"req-42"`)
	assert.Contains(t, logs.String(), "completion failed")
}

func TestDenialNotice(t *testing.T) {
	until := time.Date(2026, 10, 15, 13, 30, 0, 0, time.UTC)
	assert.Equal(t, "Sorry, you are currently timed out until 2026-10-15 13:30:00 UTC.",
		DenialNotice(gate.Decision{Kind: gate.DeniedTimedOut, Until: until}))
	assert.Empty(t, DenialNotice(gate.Decision{Kind: gate.Allowed}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "denied_at_gate", DeniedAtGate.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, ContextBuilt.Terminal())
}

var _ llm.Completer = (*scripted)(nil)

func TestAnswerPassesThroughUnchanged(t *testing.T) {
	h := newHarness(t, Settings{Model: "m"}, 5)
	h.llm.answer = "héllo wörld ✓"
	out := &recorder{}
	h.orch.Handle(context.Background(), inbound("Alice", "hi"), out)
	assert.Equal(t, h.llm.answer, strings.Join(out.messages(), ""))
}
