// Package discord connects the relay pipeline and admin operations to a
// Discord bot account.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rcliao/chat-relay/internal/admin"
	"github.com/rcliao/chat-relay/internal/assembler"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/pipeline"
)

// api is the subset of *discordgo.Session the bot calls.
type api interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	UpdateGameStatus(idle int, name string) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// sessionAPI prefers the gateway state cache for lookups.
type sessionAPI struct{ *discordgo.Session }

func (s sessionAPI) Channel(id string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if c, err := s.State.Channel(id); err == nil {
		return c, nil
	}
	return s.Session.Channel(id, options...)
}

func (s sessionAPI) Guild(id string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if g, err := s.State.Guild(id); err == nil {
		return g, nil
	}
	return s.Session.Guild(id, options...)
}

// NewSession creates a gateway session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return s, nil
}

// Presence sets the bot's activity text.
type Presence struct{ api api }

func NewPresence(s *discordgo.Session) Presence { return Presence{api: sessionAPI{s}} }

func (p Presence) SetStatus(_ context.Context, text string) error {
	return p.api.UpdateGameStatus(0, text)
}

// Deps wires a Bot.
type Deps struct {
	Pipeline          *pipeline.Orchestrator
	Admin             *admin.Service
	ManagementGuildID string
	Status            string
	Logger            *slog.Logger
}

// Bot dispatches gateway events. discordgo runs each handler in its own
// goroutine, so messages are handled concurrently.
type Bot struct {
	session *discordgo.Session
	api     api
	deps    Deps
	log     *slog.Logger
	self    atomic.Pointer[string]
}

// New attaches a Bot to session. Call Open to connect.
func New(session *discordgo.Session, deps Deps) *Bot {
	b := newBot(sessionAPI{session}, deps)
	b.session = session
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteractionCreate)
	return b
}

func newBot(a api, deps Deps) *Bot {
	b := &Bot{api: a, deps: deps, log: deps.Logger}
	if b.log == nil {
		b.log = observability.Logger()
	}
	return b
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) selfID() string {
	if p := b.self.Load(); p != nil {
		return *p
	}
	return ""
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	id := r.User.ID
	b.self.Store(&id)
	appID := id
	if r.Application != nil && r.Application.ID != "" {
		appID = r.Application.ID
	}
	b.log.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	b.registerCommands(appID)
	if b.deps.Status != "" {
		if err := b.api.UpdateGameStatus(0, b.deps.Status); err != nil {
			b.log.Warn("set initial status failed", "error", err)
		}
	}
}

func (b *Bot) registerCommands(appID string) {
	global := GlobalCommands()
	guild := b.deps.ManagementGuildID
	if guild == "" {
		// bulk overwrite replaces the whole global set
		global = append(global, ManagementCommands()...)
	}
	if _, err := b.api.ApplicationCommandBulkOverwrite(appID, "", global); err != nil {
		b.log.Error("register global commands failed", "error", err)
	}
	if guild == "" {
		return
	}
	if _, err := b.api.ApplicationCommandBulkOverwrite(appID, guild, ManagementCommands()); err != nil {
		b.log.Error("register management commands failed", "guild", guild, "error", err)
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	b.handleMessage(context.Background(), m.Message)
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	b.handleInteraction(context.Background(), i.Interaction)
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	text, ok := Addressed(m, b.selfID())
	if !ok || text == "" {
		return
	}
	ctx = observability.WithRequestID(ctx, m.ID)
	venue, scope := b.venue(m.ChannelID, m.GuildID, m.Author.Username)
	in := pipeline.Inbound{
		UserID:       m.Author.ID,
		Username:     m.Author.Username,
		Conversation: m.ChannelID,
		Scope:        scope,
		Venue:        venue,
		Text:         text,
	}
	started := time.Now()
	out := b.deps.Pipeline.Handle(ctx, in, channelReplier{api: b.api, channelID: m.ChannelID})
	observability.ContextLogger(ctx, b.log).Info("message handled",
		"state", out.State.String(),
		"reason", out.Reason,
		"chunks", out.Chunks,
		"elapsed", time.Since(started))
}

func (b *Bot) venue(channelID, guildID, username string) (assembler.Venue, string) {
	if guildID == "" {
		return assembler.Venue{Direct: true, User: username}, ""
	}
	v := assembler.Venue{Channel: channelID, Server: guildID}
	if c, err := b.api.Channel(channelID); err == nil && c.Name != "" {
		v.Channel = c.Name
	}
	if g, err := b.api.Guild(guildID); err == nil && g.Name != "" {
		v.Server = g.Name
	}
	return v, guildID
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	user := interactionUser(i)
	if user == nil {
		return
	}
	ctx = observability.WithRequestID(ctx, i.ID)
	data := i.ApplicationCommandData()
	args := ParseArgs(data.Options)

	switch data.Name {
	case cmdAsk, cmdAskBlank:
		b.ask(ctx, i, user, args, data.Name == cmdAskBlank)
	default:
		caller := admin.Caller{ID: user.ID}
		if i.Member != nil {
			caller.RoleIDs = i.Member.Roles
		}
		text := b.runCommand(ctx, data.Name, caller, args)
		b.respond(ctx, i, text)
	}
}

func (b *Bot) ask(ctx context.Context, i *discordgo.Interaction, user *discordgo.User, args Args, blank bool) {
	log := observability.ContextLogger(ctx, b.log)
	question, err := args.String("question")
	if err != nil {
		b.respond(ctx, i, commandError(err))
		return
	}
	err = b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		log.Warn("defer interaction failed", "error", err)
		return
	}
	venue, scope := b.venue(i.ChannelID, i.GuildID, user.Username)
	out := b.deps.Pipeline.Handle(ctx, pipeline.Inbound{
		UserID:       user.ID,
		Username:     user.Username,
		Conversation: i.ChannelID,
		Scope:        scope,
		Venue:        venue,
		Text:         question,
		Blank:        blank,
	}, followupReplier{api: b.api, interaction: i})
	log.Info("command handled", "command", cmdAsk, "blank", blank,
		"state", out.State.String(), "reason", out.Reason, "chunks", out.Chunks)
}

// runCommand executes an administrative command and returns the reply.
func (b *Bot) runCommand(ctx context.Context, name string, c admin.Caller, args Args) string {
	svc := b.deps.Admin
	switch name {
	case cmdTimeout:
		user, err := args.String("userid")
		if err != nil {
			return commandError(err)
		}
		secs, err := args.Int("duration")
		if err != nil {
			return commandError(err)
		}
		if _, err := svc.Timeout(c, user, secs); err != nil {
			return commandError(err)
		}
		return fmt.Sprintf("User %s has been timed out for %d seconds.", user, secs)

	case cmdRemoveTimeout:
		user, err := args.String("userid")
		if err != nil {
			return commandError(err)
		}
		removed, err := svc.RemoveTimeout(c, user)
		if err != nil {
			return commandError(err)
		}
		if !removed {
			return "User has no timeout."
		}
		return "Timeout removed."

	case cmdQuota:
		user, err := args.String("userid")
		if err != nil {
			return commandError(err)
		}
		n, err := args.Int("count")
		if err != nil {
			return commandError(err)
		}
		if err := svc.SetQuota(c, user, n); err != nil {
			return commandError(err)
		}
		return fmt.Sprintf("User %s may send %d more messages.", user, n)

	case cmdRemoveQuota:
		user, err := args.String("userid")
		if err != nil {
			return commandError(err)
		}
		removed, err := svc.RemoveQuota(c, user)
		if err != nil {
			return commandError(err)
		}
		if !removed {
			return "User has no quota."
		}
		return "Quota removed."

	case cmdStatus:
		status, err := args.String("status")
		if err != nil {
			return commandError(err)
		}
		if err := svc.SetStatus(ctx, c, status); err != nil {
			return commandError(err)
		}
		return "Status updated."

	case cmdWindow:
		n, err := args.Int("size")
		if err != nil {
			return commandError(err)
		}
		if err := svc.SetWindowSize(c, n); err != nil {
			return commandError(err)
		}
		return fmt.Sprintf("Message history limit set to %d.", n)

	case cmdSendDM:
		if err := svc.Authorize(c); err != nil {
			return commandError(err)
		}
		user, err := args.String("userid")
		if err != nil {
			return commandError(err)
		}
		msg, err := args.String("message")
		if err != nil {
			return commandError(err)
		}
		if err := admin.ValidateUserID(user); err != nil {
			return commandError(err)
		}
		ch, err := b.api.UserChannelCreate(user)
		if err != nil {
			return fmt.Sprintf("Failed to send DM: %v", err)
		}
		if _, err := b.api.ChannelMessageSend(ch.ID, msg); err != nil {
			return fmt.Sprintf("Failed to send DM: %v", err)
		}
		return "DM sent."

	case cmdSendMessage:
		if err := svc.Authorize(c); err != nil {
			return commandError(err)
		}
		channel, err := args.String("channelid")
		if err != nil {
			return commandError(err)
		}
		msg, err := args.String("message")
		if err != nil {
			return commandError(err)
		}
		if err := admin.ValidateChannelID(channel); err != nil {
			return commandError(err)
		}
		if _, err := b.api.ChannelMessageSend(channel, msg); err != nil {
			return fmt.Sprintf("Failed to send message: %v", err)
		}
		return "Message sent."
	}
	return "Unknown command."
}

func commandError(err error) string {
	switch {
	case errors.Is(err, admin.ErrUnauthorized):
		return "You are not authorized to use this command."
	case errors.Is(err, admin.ErrInvalidArgument):
		return "Invalid arguments."
	default:
		return fmt.Sprintf("Command failed: %v", err)
	}
}

func (b *Bot) respond(ctx context.Context, i *discordgo.Interaction, text string) {
	err := b.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		observability.ContextLogger(ctx, b.log).Warn("respond to interaction failed", "error", err)
	}
}

type channelReplier struct {
	api       api
	channelID string
}

func (r channelReplier) Reply(_ context.Context, text string) error {
	_, err := r.api.ChannelMessageSend(r.channelID, text)
	return err
}

type followupReplier struct {
	api         api
	interaction *discordgo.Interaction
}

func (r followupReplier) Reply(_ context.Context, text string) error {
	_, err := r.api.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{Content: text})
	return err
}
