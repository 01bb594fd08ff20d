package data

import (
	"context"
	"log/slog"
	"strings"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// ConsoleProcess is the managed process as seen by the console repo
type ConsoleProcess interface {
	Write(line string) error
	Subscribe(fn func(line string))
	Unsubscribe()
	Cached() []string
}

// ConsoleRepo is both the log source and the command dispatcher of the
// managed process
type ConsoleRepo interface {
	repo.LogSource
	repo.CommandDispatcher
}

type consoleRepo struct {
	proc   ConsoleProcess
	nodes  map[string]string // lowercase name or alias -> permission node
	logger *slog.Logger
}

// NewConsoleRepo creates a console repo over proc.
//
// commands lists the process' known commands as "name" or
// "name|alias|alias". A known command and its aliases resolve to the
// permission node of its name.
func NewConsoleRepo(proc ConsoleProcess, commands []string, logger *slog.Logger) ConsoleRepo {
	if logger == nil {
		logger = slog.Default()
	}
	nodes := make(map[string]string)
	for _, entry := range commands {
		names := strings.Split(entry, "|")
		name := strings.ToLower(strings.TrimSpace(names[0]))
		if name == "" {
			continue
		}
		node := domain.DefaultCommandPrefix + name
		for _, alias := range names {
			if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
				nodes[alias] = node
			}
		}
	}
	return &consoleRepo{
		proc:   proc,
		nodes:  nodes,
		logger: logger.With("component", "console"),
	}
}

func (r *consoleRepo) Subscribe(fn func(line string)) { r.proc.Subscribe(fn) }

func (r *consoleRepo) Unsubscribe() { r.proc.Unsubscribe() }

func (r *consoleRepo) Cached() []string { return r.proc.Cached() }

func (r *consoleRepo) CommandInfo(line string) (string, bool) {
	name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	node, ok := r.nodes[strings.ToLower(name)]
	return node, ok
}

// Dispatch writes line to the process. The process' own console output is
// the reply; the sender only hears about failures.
func (r *consoleRepo) Dispatch(_ context.Context, sender repo.Sender, line string) error {
	if err := r.proc.Write(line); err != nil {
		if errs.HasCode(err, errs.CodeProcessNotRunning) {
			sender.SendMessage("[console-bridge] the managed process is not running")
		}
		return err
	}
	r.logger.Debug("Command written", "sender", sender.Name(), "line", line)
	return nil
}
