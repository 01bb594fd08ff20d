package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devricklin/feishu-console-bridge/internal/biz"
	"github.com/devricklin/feishu-console-bridge/internal/data"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
	"github.com/devricklin/feishu-console-bridge/internal/infra/feishu"
	"github.com/devricklin/feishu-console-bridge/internal/infra/process"
	"github.com/devricklin/feishu-console-bridge/internal/mcp"
	"github.com/devricklin/feishu-console-bridge/internal/server"
	"github.com/devricklin/feishu-console-bridge/internal/service"
)

// shutdownTimeout bounds the whole shutdown: process stop, running
// rotations and the final flush.
const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the console process and the bridge",
		Long: "Start the configured console process, connect to Feishu and relay " +
			"console output until interrupted. SIGHUP reloads the bot document.",
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Process.Command == "" {
		return errs.New(errs.CodeConfigSettingsInvalid, "process.command is required to serve")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize repository layer
	repos, err := data.NewRepositories(cfg.DocumentPath, cfg.StateDir, []feishu.Option{
		feishu.WithDomain(cfg.Lark.Domain),
		feishu.WithLogger(logger),
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Warn("Failed to close repositories", "error", err)
		}
	}()

	supervisor := process.NewSupervisor(cfg.Process.ToProcessConfig(), logger)
	console := data.NewConsoleRepo(supervisor, cfg.Process.Commands, logger)

	// Initialize usecase and service layer
	mergeMode, _ := cfg.Merge()
	ucs := biz.NewUsecases(repos.Chat, repos.Document, repos.Ticket, mergeMode, cfg.Relay.ToBufferConfig(), logger)
	bot, rotation := ucs.Bot, ucs.Rotation
	relay := service.NewRelayScheduler(ucs.Buffer, bot, repos.Chat, console, cfg.Relay.ToSchedulerConfig(), logger)
	srv := server.NewFeishuServer(repos.Chat, console, bot, rotation, relay, logger)

	// The process outlives ctx so it can be stopped with its stop command
	if err := supervisor.Start(context.Background()); err != nil {
		return err
	}
	srv.Enable(ctx)

	if cfg.MCP.Listen != "" {
		tools := mcp.NewServer(bot, rotation, relay, version, logger)
		go func() {
			if err := tools.Serve(ctx, cfg.MCP.Listen); err != nil {
				logger.Error("Operator tools stopped", "error", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Info("Bridge running", "document", cfg.DocumentPath, "process", cfg.Process.Command)
	for running := true; running; {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			running = false
		case <-supervisor.Done():
			logger.Warn("Console process exited, shutting down", "error", supervisor.Err())
			running = false
		case <-hup:
			if err := bot.Reload(ctx); err != nil {
				logger.Error("Reload failed", "error", err)
			}
		}
	}

	// Stop the process first so its shutdown output is still relayed
	stopProcess(supervisor, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Disable(shutdownCtx)
	return nil
}

func stopProcess(supervisor *process.Supervisor, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := supervisor.Stop(ctx); err != nil {
		logger.Warn("Failed to stop console process", "error", err)
	}
}
