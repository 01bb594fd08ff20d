package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/data"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
	"github.com/devricklin/feishu-console-bridge/internal/infra/feishu"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to the console channels",
		Long:  "Send a one-off message with the bot's credentials, to every console channel or to the channels given with --channel.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			channels, _ := cmd.Flags().GetStringSlice("channel")
			text := strings.Join(args, " ")

			doc, _, err := data.NewDocumentRepo(cfg.DocumentPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := domain.ParseSnapshot(doc, nil)
			if err != nil {
				return err
			}
			if len(channels) == 0 {
				channels = snap.Channels.IDs()
			}
			if len(channels) == 0 {
				return errs.New(errs.CodeConfigSettingsInvalid, "no console channels configured and no --channel given")
			}

			chat := data.NewFeishuRepo(data.NewFeishuClientFactory(
				feishu.WithDomain(cfg.Lark.Domain),
				feishu.WithLogger(logger),
			), logger)
			if err := chat.Connect(cmd.Context(), snap.Token); err != nil {
				return err
			}
			defer chat.Close()

			for _, id := range channels {
				if err := chat.SendText(cmd.Context(), id, text); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("channel", nil, "target chat_id, repeatable (default: all console channels)")
	return cmd
}
