package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rcliao/chat-relay/internal/admin"
	"github.com/rcliao/chat-relay/internal/assembler"
	"github.com/rcliao/chat-relay/internal/clock"
	"github.com/rcliao/chat-relay/internal/config"
	"github.com/rcliao/chat-relay/internal/dashboard"
	"github.com/rcliao/chat-relay/internal/discord"
	"github.com/rcliao/chat-relay/internal/gate"
	"github.com/rcliao/chat-relay/internal/llm"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and relay messages",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func newCompleter(cfg *config.Config) llm.Completer {
	if cfg.OpenAI.Mock {
		return llm.NewMock()
	}
	return llm.NewOpenAI(llm.OpenAIOptions{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL})
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if err := cfg.Validate(true); err != nil {
		exitErr("config", err)
	}
	log := observability.Setup(observability.Options{Format: cfg.Log.Format, Level: cfg.Log.Level, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	prompt := cfg.Prompt()
	systemPrompt, err := prompt.LoadPrompt(ctx)
	if err != nil {
		exitErr("load prompt", err)
	}
	settings := pipeline.NewSettingsHandle(pipeline.Settings{
		SystemPrompt: systemPrompt,
		WindowSize:   cfg.Pipeline.WindowSize,
		Model:        cfg.OpenAI.Model,
	})

	clk := clock.Real()
	g := gate.New(clk)
	persister := pipeline.NewPersister(s, cfg.Pipeline.QueueSize, log)
	defer persister.Close()

	orch := pipeline.New(pipeline.Deps{
		Gate:              g,
		Assembler:         assembler.New(s, log),
		Completer:         newCompleter(cfg),
		Persister:         persister,
		Settings:          settings,
		Logger:            log,
		MaxUnitSize:       cfg.Pipeline.MaxUnitSize,
		CompletionTimeout: cfg.OpenAI.Timeout,
	})

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		exitErr("discord", err)
	}
	svc := admin.New(admin.Deps{
		Policy:     admin.Policy{UserIDs: cfg.Admin.UserIDs, RoleIDs: cfg.Admin.RoleIDs},
		Gate:       g,
		Settings:   settings,
		Transcript: s,
		Prompt:     prompt,
		Status:     discord.NewPresence(session),
		Logger:     log,
	})
	bot := discord.New(session, discord.Deps{
		Pipeline:          orch,
		Admin:             svc,
		ManagementGuildID: cfg.Discord.ManagementGuildID,
		Status:            cfg.Discord.Status,
		Logger:            log,
	})
	if err := bot.Open(); err != nil {
		exitErr("discord", err)
	}
	defer bot.Close()

	if cfg.Dashboard.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := dashboard.New(svc, dashboard.Options{Token: cfg.Dashboard.Token, Logger: log})
		go func(ctx context.Context) {
			if err := srv.Run(ctx, cfg.Dashboard.Addr); err != nil {
				log.Error("dashboard stopped", "error", err)
				stop()
			}
		}(ctx)
	}

	log.Info("relay running", "model", cfg.OpenAI.Model, "window", cfg.Pipeline.WindowSize, "db", cfg.Store.Path)
	<-ctx.Done()
	log.Info("shutting down")
}
