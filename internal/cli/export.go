package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export transcript records as JSON",
		Long:  "Export transcript records in write order. Filter by conversation with -n.",
		Run:   runExport,
	}

	cmd.Flags().StringP("conversation", "n", "", "Filter by conversation")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	conversation, _ := cmd.Flags().GetString("conversation")

	s, err := openStore(loadConfig())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	msgs, err := s.ExportAll(cmd.Context(), conversation)
	if err != nil {
		exitErr("export", err)
	}

	b, _ := json.MarshalIndent(msgs, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}
