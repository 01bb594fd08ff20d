package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devricklin/feishu-console-bridge/internal/conf"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "console-bridge",
		Short:         "Relay a server console to Feishu group chats",
		Long:          "console-bridge runs a console process, relays its output to Feishu group chats and lets permitted chat users send console commands back.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags, bound to viper keys in loadConfig
	root.PersistentFlags().StringP("config", "c", "", "path to the settings file (yaml, json or toml)")
	root.PersistentFlags().String("document", "", "path to the bot document")
	root.PersistentFlags().String("state-dir", "", "directory for the rotation ticket database")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newRotationsCmd(),
		newSendCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves settings with the precedence flag > env > file > defaults.
func loadConfig(cmd *cobra.Command) (*conf.Config, *slog.Logger, error) {
	if err := conf.LoadDotEnv(); err != nil {
		return nil, nil, err
	}

	v := viper.New()
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"document_path": "document",
		"state_dir":     "state-dir",
		"log.level":     "log-level",
	} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, errs.Wrap(err, errs.CodeConfigSettingsInvalid, "bind flag", errs.Field("flag", flag))
			}
		}
	}

	path, _ := flags.GetString("config")
	cfg, err := conf.Load(v, path)
	if err != nil {
		return nil, nil, err
	}

	logger := conf.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
