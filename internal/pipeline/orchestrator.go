// Package pipeline drives one inbound message through access control,
// context assembly, completion, chunking, persistence and delivery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rcliao/chat-relay/internal/assembler"
	"github.com/rcliao/chat-relay/internal/chunker"
	"github.com/rcliao/chat-relay/internal/gate"
	"github.com/rcliao/chat-relay/internal/llm"
	"github.com/rcliao/chat-relay/internal/model"
	"github.com/rcliao/chat-relay/internal/observability"
)

// DefaultCompletionTimeout bounds one completion call.
const DefaultCompletionTimeout = 2 * time.Minute

// FailureNotice is sent when no answer could be produced.
const FailureNotice = "I'm sorry, I couldn't generate a response."

// Inbound is one message addressed to the bot.
type Inbound struct {
	UserID       string
	Username     string
	Conversation string
	Scope        string
	Venue        assembler.Venue
	Text         string
	// Blank asks without system prompt or history.
	Blank bool
}

// Replier sends one transport unit back to where the message came from.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Gate              *gate.Gate
	Assembler         *assembler.Assembler
	Completer         llm.Completer
	Persister         *Persister
	Settings          *SettingsHandle
	Logger            *slog.Logger
	MaxUnitSize       int
	CompletionTimeout time.Duration
}

// Orchestrator handles inbound messages. Handle is safe for concurrent use.
type Orchestrator struct {
	gate      *gate.Gate
	assembler *assembler.Assembler
	llm       llm.Completer
	persister *Persister
	settings  *SettingsHandle
	log       *slog.Logger
	maxUnit   int
	timeout   time.Duration
}

// New returns an Orchestrator wired to deps.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		gate:      deps.Gate,
		assembler: deps.Assembler,
		llm:       deps.Completer,
		persister: deps.Persister,
		settings:  deps.Settings,
		log:       deps.Logger,
		maxUnit:   deps.MaxUnitSize,
		timeout:   deps.CompletionTimeout,
	}
	if o.log == nil {
		o.log = observability.Logger()
	}
	if o.maxUnit <= 0 {
		o.maxUnit = chunker.DefaultMaxSize
	}
	if o.timeout <= 0 {
		o.timeout = DefaultCompletionTimeout
	}
	if o.settings == nil {
		o.settings = NewSettingsHandle(Settings{})
	}
	return o
}

// Settings returns the handle holding the runtime settings.
func (o *Orchestrator) Settings() *SettingsHandle { return o.settings }

// Handle runs in through the pipeline and reports the terminal state.
// Cancelling ctx after Handle starts does not abort it.
func (o *Orchestrator) Handle(ctx context.Context, in Inbound, out Replier) Outcome {
	ctx = context.WithoutCancel(ctx)
	log := observability.ContextLogger(ctx, o.log).With("user", in.UserID, "conversation", in.Conversation)

	decision := o.gate.CheckAndConsume(in.UserID)
	if !decision.Allowed() {
		log.Info("message denied", "reason", decision.Kind.String())
		if err := out.Reply(ctx, DenialNotice(decision)); err != nil {
			log.Warn("send denial notice failed", "error", err)
		}
		return Outcome{State: DeniedAtGate, Decision: decision}
	}

	settings := o.settings.Load()
	req := assembler.Request{
		Conversation: in.Conversation,
		Venue:        in.Venue,
		Username:     in.Username,
		Question:     in.Text,
		SystemPrompt: settings.SystemPrompt,
		WindowSize:   settings.WindowSize,
	}
	if in.Blank {
		req.SystemPrompt = ""
		req.WindowSize = 0
	}
	turns := o.assembler.Build(ctx, req)

	answer, err := o.complete(ctx, settings.Model, turns)
	if err != nil {
		log.Error("completion failed", "model", settings.Model, "error", err)
		if err := out.Reply(ctx, FailureNotice); err != nil {
			log.Warn("send failure notice failed", "error", err)
		}
		return Outcome{State: Failed, Reason: ReasonCompletion, Decision: decision}
	}

	chunks := chunker.Split(answer, o.maxUnit)

	o.persister.Enqueue(
		model.Message{
			Content:      in.Text,
			Sender:       in.Username,
			Conversation: in.Conversation,
			Scope:        in.Scope,
			SentByUser:   true,
		},
		model.Message{
			Content:      answer,
			Sender:       settings.Model,
			Conversation: in.Conversation,
			Scope:        in.Scope,
			SentByUser:   false,
		},
	)

	for i, c := range chunks {
		if err := out.Reply(ctx, c); err != nil {
			log.Error("deliver chunk failed", "chunk", i, "of", len(chunks), "error", err)
			return Outcome{State: Failed, Reason: ReasonDelivery, Decision: decision, Chunks: i}
		}
	}
	log.Debug("message delivered", "chunks", len(chunks), "turns", len(turns))
	return Outcome{State: Delivered, Decision: decision, Chunks: len(chunks)}
}

func (o *Orchestrator) complete(ctx context.Context, modelName string, turns []model.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	answer, err := o.llm.Complete(ctx, modelName, turns)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", llm.ErrEmptyCompletion
	}
	return answer, nil
}

// DenialNotice is the text sent to a user the gate turned away.
func DenialNotice(d gate.Decision) string {
	switch d.Kind {
	case gate.DeniedTimedOut:
		return fmt.Sprintf("Sorry, you are currently timed out until %s.", d.Until.UTC().Format("2006-01-02 15:04:05 MST"))
	case gate.DeniedQuotaExhausted:
		return "Sorry, you have used up your message quota."
	default:
		return ""
	}
}
