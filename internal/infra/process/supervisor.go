// Package process runs the managed console process and exposes its console.
package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// maxLineBytes caps one output line; longer lines are delivered in pieces
const maxLineBytes = 64 * 1024

// Config describes the managed process
type Config struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string      // Extra environment, appended to the bridge's own
	StopCommand string        // Written to stdin on Stop; empty closes stdin instead
	StopTimeout time.Duration // Grace before the process is interrupted, then killed
	CacheSize   int           // Console lines kept for Cached
}

// DefaultConfig returns default process configuration
func DefaultConfig() Config {
	return Config{
		StopTimeout: 10 * time.Second,
		CacheSize:   500,
	}
}

// Supervisor runs one process, fans its output lines out to a subscriber and
// feeds command lines to its stdin
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	outputs []io.Closer
	writeMu sync.Mutex
	running atomic.Bool
	done    chan struct{}
	exitErr error

	mu         sync.Mutex
	cache      []string
	subscriber func(string)
}

// NewSupervisor creates a new supervisor
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	def := DefaultConfig()
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "process"),
		done:   make(chan struct{}),
	}
}

// Start spawns the process. ctx bounds the process lifetime.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Command == "" {
		return errs.New(errs.CodeProcessStartFailure, "no process command configured")
	}

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return interruptGroup(cmd.Process) }
	cmd.WaitDelay = s.cfg.StopTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errs.Wrap(err, errs.CodeProcessStartFailure, "create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errs.Wrap(err, errs.CodeProcessStartFailure, "create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errs.Wrap(err, errs.CodeProcessStartFailure, "create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errs.Wrap(err, errs.CodeProcessStartFailure, "start process", errs.Field("command", s.cfg.Command))
	}
	s.cmd = cmd
	s.stdin = stdin
	s.outputs = []io.Closer{stdout, stderr}
	s.running.Store(true)
	s.logger.Info("Started", "command", s.cfg.Command, "args", s.cfg.Args, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(&readers, stdout)
	go s.readLines(&readers, stderr)

	// Wait must not run before the pipes are drained
	go func() {
		readers.Wait()
		err := cmd.Wait()
		s.running.Store(false)
		s.exitErr = err
		if err != nil {
			s.logger.Warn("Exited", "error", err)
		} else {
			s.logger.Info("Exited")
		}
		close(s.done)
	}()
	return nil
}

// Stop asks the process to end and waits for it. When ctx ends first the
// process group is interrupted, then killed after the stop timeout; pipes
// still open after another timeout are closed.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cmd == nil {
		return nil
	}
	if s.running.Load() {
		if s.cfg.StopCommand != "" {
			if err := s.Write(s.cfg.StopCommand); err != nil {
				s.logger.Warn("Failed to send stop command", "error", err)
			}
		}
		s.writeMu.Lock()
		s.stdin.Close()
		s.writeMu.Unlock()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("Process did not exit in time, interrupting")
	if err := interruptGroup(s.cmd.Process); err != nil {
		s.logger.Warn("Interrupt failed", "error", err)
	}
	if s.waitDone(s.cfg.StopTimeout) {
		return nil
	}

	s.logger.Warn("Process ignored interrupt, killing")
	if err := killGroup(s.cmd.Process); err != nil {
		s.logger.Warn("Kill failed", "error", err)
	}
	if s.waitDone(s.cfg.StopTimeout) {
		return nil
	}

	// Something outside the group still holds the output pipes
	s.logger.Warn("Output still open after kill, closing pipes")
	for _, c := range s.outputs {
		_ = c.Close()
	}
	<-s.done
	return nil
}

func (s *Supervisor) waitDone(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}

// Done is closed once the process has exited
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the exit error after Done is closed
func (s *Supervisor) Err() error {
	<-s.done
	return s.exitErr
}

// Running reports whether the process is alive
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Write sends one command line to the process
func (s *Supervisor) Write(line string) error {
	if !s.running.Load() {
		return errs.New(errs.CodeProcessNotRunning, "managed process is not running")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return errs.Wrap(err, errs.CodeProcessWriteFailure, "write to process stdin")
	}
	return nil
}

// Subscribe registers fn for every output line, replacing any previous subscriber
func (s *Supervisor) Subscribe(fn func(line string)) {
	s.mu.Lock()
	s.subscriber = fn
	s.mu.Unlock()
}

// Unsubscribe removes the subscriber
func (s *Supervisor) Unsubscribe() {
	s.Subscribe(nil)
}

// Cached returns the most recent output lines, oldest first
func (s *Supervisor) Cached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cache...)
}

// readLines emits every line of r. Lines longer than maxLineBytes are split
// on rune boundaries and emitted piece by piece, so the process never blocks
// on a full pipe.
func (s *Supervisor) readLines(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()

	reader := bufio.NewReaderSize(r, maxLineBytes)
	var carry []byte
	continued := false
	for {
		frag, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(carry) > 0 {
				s.emit(string(carry))
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("Console read error", "error", err)
			}
			return
		}

		line := append(carry, frag...)
		carry = nil
		if isPrefix {
			cut := runeBoundary(line)
			carry = append([]byte(nil), line[cut:]...)
			line = line[:cut]
		}
		// An empty tail after a full buffer is not a line of its own
		if len(line) > 0 || (!isPrefix && !continued) {
			s.emit(string(line))
		}
		continued = isPrefix
	}
}

// runeBoundary returns the length of b without a trailing incomplete rune
func runeBoundary(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return len(b)
		}
		return len(b) - i
	}
	return len(b)
}

func (s *Supervisor) emit(line string) {
	s.mu.Lock()
	if len(s.cache) >= s.cfg.CacheSize {
		n := len(s.cache) - s.cfg.CacheSize + 1
		clear(s.cache[:n])
		s.cache = s.cache[n:]
	}
	s.cache = append(s.cache, line)
	fn := s.subscriber
	s.mu.Unlock()

	if fn != nil {
		fn(line)
	}
}
