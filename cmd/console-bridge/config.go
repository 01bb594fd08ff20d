package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/data"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the bot document",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigInitCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the settings, the bot document and the ticket store",
		Long: "Validate the settings and the bot document and report the ticket " +
			"store schema. Nothing is connected and no file is created.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			mode, _ := cfg.Merge()
			out := cmd.OutOrStdout()

			doc, err := data.ReadDocument(cfg.DocumentPath)
			if errs.IsNotFound(err) {
				fmt.Fprintf(out, "No document at %s; serve writes the defaults there\n", cfg.DocumentPath)
				doc, err = domain.DefaultDocument(), nil
			}
			if err != nil {
				return err
			}
			if missing := doc.MissingKeys(); len(missing) > 0 {
				fmt.Fprintf(out, "Missing keys, filled from defaults on serve: %s\n", strings.Join(missing, ", "))
				doc, _ = domain.MergeDefaults(doc, domain.DefaultDocument(), mode)
			}

			storeErr := data.CheckTicketStore(filepath.Join(cfg.StateDir, data.TicketDBName))
			switch {
			case storeErr == nil:
				fmt.Fprintln(out, "Ticket store:  up to date")
			case errs.IsNotFound(storeErr):
				fmt.Fprintln(out, "Ticket store:  not created yet")
				storeErr = nil
			default:
				fmt.Fprintf(out, "Ticket store:  %v\n", storeErr)
			}

			snap, err := domain.ParseSnapshot(doc, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Document:      %s\n", cfg.DocumentPath)
			fmt.Fprintf(out, "Channels:      %s\n", strings.Join(snap.Channels.IDs(), ", "))
			fmt.Fprintf(out, "Poll interval: %s\n", snap.PollInterval)
			fmt.Fprintf(out, "Whitelist:     %t\n", snap.Policy.UsesWhitelist())
			fmt.Fprintf(out, "Blacklist:     %t\n", snap.Policy.UsesBlacklist())
			fmt.Fprintf(out, "Users:         %d\n", snap.Policy.UserCount())
			if snap.PresenceErr != nil {
				fmt.Fprintf(out, "Presence:      invalid (%v)\n", snap.PresenceErr)
			} else {
				fmt.Fprintf(out, "Presence:      %s %s\n", snap.Presence.Type, snap.Presence.Text)
			}
			fmt.Fprintf(out, "Process:       %s %s\n", cfg.Process.Command, strings.Join(cfg.Process.Args, " "))
			return storeErr
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default bot document if none exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, created, err := data.NewDocumentRepo(cfg.DocumentPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			if created {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default document to %s\n", cfg.DocumentPath)
			} else {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Document already exists at %s\n", cfg.DocumentPath)
			}
			return err
		},
	}
}
