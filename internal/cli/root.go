// Package cli implements the chat-relay commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/chat-relay/internal/config"
	"github.com/rcliao/chat-relay/internal/observability"
	"github.com/rcliao/chat-relay/internal/store"
)

var configFlags *config.Flags

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "chat-relay",
	Short: "Discord to LLM relay with bounded conversation memory",
	Long:  "Relays Discord messages to a chat completion API, keeping a retention-limited SQLite transcript for context.",
}

func init() {
	configFlags = config.BindFlags(RootCmd.PersistentFlags())
}

func loadConfig() *config.Config {
	cfg, err := configFlags.Resolve()
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Store.Path,
		store.WithLogger(observability.Logger()),
		store.WithRetention(store.Retention{
			MaxPerPair: cfg.Store.MaxPerPair,
			MaxAge:     cfg.Store.MaxAge,
		}))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
