package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Show the most recent messages of a conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runHistory,
	}

	cmd.Flags().IntP("limit", "l", 15, "Max messages")
	cmd.Flags().Bool("text", false, "Print one line per message instead of JSON")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	asText, _ := cmd.Flags().GetBool("text")

	s, err := openStore(loadConfig())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	msgs, err := s.ReadConversation(cmd.Context(), args[0], limit)
	if err != nil {
		exitErr("history", err)
	}

	if asText {
		for _, m := range msgs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n", m.SentAt.Local().Format("2006-01-02 15:04:05"), m.Sender, m.Content)
		}
		return
	}

	b, _ := json.MarshalIndent(msgs, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
