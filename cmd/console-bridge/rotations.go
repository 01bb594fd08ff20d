package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-console-bridge/internal/data"
)

func newRotationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotations",
		Short: "Inspect channel rotation tickets",
	}
	cmd.AddCommand(newRotationsListCmd())
	return cmd
}

func newRotationsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent rotation tickets, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			tickets, err := data.NewTicketRepo(filepath.Join(cfg.StateDir, data.TicketDBName))
			if err != nil {
				return err
			}
			defer tickets.Close()

			list, err := tickets.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "No rotations")
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOLD\tNEW\tSTATE\tFAILED STEP\tUPDATED")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.OldChannelID, dash(t.NewChannelID), t.State, dash(string(t.FailedStep)),
					t.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of tickets to show (0 for all)")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
