// Package admin implements the privileged operations shared by the chat
// commands and the dashboard.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/chat-relay/internal/assembler"
	"github.com/rcliao/chat-relay/internal/gate"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/pipeline"
	"github.com/rcliao/chat-relay/internal/store"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Caller identifies who invokes an operation.
type Caller struct {
	ID      string
	RoleIDs []string
	// Trusted callers skip the allow-list check.
	Trusted bool
}

// Policy is the allow-list of administrators.
type Policy struct {
	UserIDs []string
	RoleIDs []string
}

// PromptSource yields the current system prompt.
type PromptSource interface {
	LoadPrompt(ctx context.Context) (string, error)
}

// StatusSetter changes the bot's presence text.
type StatusSetter interface {
	SetStatus(ctx context.Context, text string) error
}

// Transcript is the part of the store admin needs.
type Transcript interface {
	Clear(ctx context.Context) (int64, error)
	Tally() *store.Tally
}

// Deps wires a Service.
type Deps struct {
	Policy     Policy
	Gate       *gate.Gate
	Settings   *pipeline.SettingsHandle
	Transcript Transcript
	Prompt     PromptSource
	Status     StatusSetter
	Logger     *slog.Logger
}

type Service struct {
	policy     Policy
	gate       *gate.Gate
	settings   *pipeline.SettingsHandle
	transcript Transcript
	prompt     PromptSource
	status     StatusSetter
	log        *slog.Logger
}

func New(deps Deps) *Service {
	s := &Service{
		policy:     deps.Policy,
		gate:       deps.Gate,
		settings:   deps.Settings,
		transcript: deps.Transcript,
		prompt:     deps.Prompt,
		status:     deps.Status,
		log:        deps.Logger,
	}
	if s.log == nil {
		s.log = observability.Logger()
	}
	return s
}

// Authorize reports ErrUnauthorized unless c may run admin operations.
func (s *Service) Authorize(c Caller) error {
	if c.Trusted {
		return nil
	}
	if c.ID != "" && slices.Contains(s.policy.UserIDs, c.ID) {
		return nil
	}
	for _, r := range c.RoleIDs {
		if slices.Contains(s.policy.RoleIDs, r) {
			return nil
		}
	}
	return ErrUnauthorized
}

// Timeout blocks user for seconds and returns the expiry.
func (s *Service) Timeout(c Caller, user string, seconds int) (time.Time, error) {
	if err := s.Authorize(c); err != nil {
		return time.Time{}, err
	}
	if err := ValidateUserID(user); err != nil {
		return time.Time{}, err
	}
	if seconds <= 0 {
		return time.Time{}, fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidArgument, seconds)
	}
	until, err := s.gate.SetTimeout(user, time.Duration(seconds)*time.Second)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	s.log.Info("user timed out", "by", c.ID, "user", user, "until", until)
	return until, nil
}

// RemoveTimeout reports whether a timeout was cleared.
func (s *Service) RemoveTimeout(c Caller, user string) (bool, error) {
	if err := s.Authorize(c); err != nil {
		return false, err
	}
	if err := ValidateUserID(user); err != nil {
		return false, err
	}
	ok := s.gate.ClearTimeout(user)
	s.log.Info("timeout removed", "by", c.ID, "user", user, "existed", ok)
	return ok, nil
}

// SetQuota allows user n more messages.
func (s *Service) SetQuota(c Caller, user string, n int) error {
	if err := s.Authorize(c); err != nil {
		return err
	}
	if err := ValidateUserID(user); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: quota must not be negative, got %d", ErrInvalidArgument, n)
	}
	if err := s.gate.SetQuota(user, n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	s.log.Info("quota set", "by", c.ID, "user", user, "quota", n)
	return nil
}

func (s *Service) RemoveQuota(c Caller, user string) (bool, error) {
	if err := s.Authorize(c); err != nil {
		return false, err
	}
	if err := ValidateUserID(user); err != nil {
		return false, err
	}
	ok := s.gate.ClearQuota(user)
	s.log.Info("quota removed", "by", c.ID, "user", user, "existed", ok)
	return ok, nil
}

// Access returns the gate state of user.
func (s *Service) Access(c Caller, user string) (gate.AccessState, bool, error) {
	if err := s.Authorize(c); err != nil {
		return gate.AccessState{}, false, err
	}
	if err := ValidateUserID(user); err != nil {
		return gate.AccessState{}, false, err
	}
	st, ok := s.gate.State(user)
	return st, ok, nil
}

// SetWindowSize changes how many history messages later requests include.
func (s *Service) SetWindowSize(c Caller, n int) error {
	if err := s.Authorize(c); err != nil {
		return err
	}
	if n < 0 || n > assembler.MaxWindowSize {
		return fmt.Errorf("%w: window size must be between 0 and %d, got %d",
			ErrInvalidArgument, assembler.MaxWindowSize, n)
	}
	s.settings.Update(func(cur pipeline.Settings) pipeline.Settings {
		cur.WindowSize = n
		return cur
	})
	s.log.Info("window size changed", "by", c.ID, "window", n)
	return nil
}

// WindowSize is readable by anyone.
func (s *Service) WindowSize() int {
	return s.settings.Load().WindowSize
}

// ReloadPrompt re-reads the system prompt and publishes it.
func (s *Service) ReloadPrompt(ctx context.Context, c Caller) (string, error) {
	if err := s.Authorize(c); err != nil {
		return "", err
	}
	if s.prompt == nil {
		return "", errors.New("no prompt source configured")
	}
	p, err := s.prompt.LoadPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("load prompt: %w", err)
	}
	s.settings.Update(func(cur pipeline.Settings) pipeline.Settings {
		cur.SystemPrompt = p
		return cur
	})
	s.log.Info("system prompt reloaded", "by", c.ID, "length", len(p))
	return p, nil
}

func (s *Service) SetStatus(ctx context.Context, c Caller, text string) error {
	if err := s.Authorize(c); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: status must not be empty", ErrInvalidArgument)
	}
	if s.status == nil {
		return errors.New("no status setter configured")
	}
	if err := s.status.SetStatus(ctx, text); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	s.log.Info("status changed", "by", c.ID, "status", text)
	return nil
}

// Statistics returns the in-memory message counters.
func (s *Service) Statistics() store.Statistics {
	return s.transcript.Tally().Snapshot()
}

func (s *Service) ClearStatistics(c Caller) error {
	if err := s.Authorize(c); err != nil {
		return err
	}
	s.transcript.Tally().Reset()
	s.log.Info("statistics cleared", "by", c.ID)
	return nil
}

// ClearTranscript deletes every stored message.
func (s *Service) ClearTranscript(ctx context.Context, c Caller) (int64, error) {
	if err := s.Authorize(c); err != nil {
		return 0, err
	}
	n, err := s.transcript.Clear(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear transcript: %w", err)
	}
	s.log.Warn("transcript cleared", "by", c.ID, "deleted", n)
	return n, nil
}

// ValidateUserID accepts numeric Discord snowflakes.
func ValidateUserID(id string) error {
	return validateSnowflake("user id", id)
}

// ValidateChannelID accepts numeric Discord snowflakes.
func ValidateChannelID(id string) error {
	return validateSnowflake("channel id", id)
}

func validateSnowflake(what, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, what)
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return fmt.Errorf("%w: invalid %s %q", ErrInvalidArgument, what, id)
	}
	return nil
}
