package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// SnapshotSource provides the current configuration snapshot
type SnapshotSource interface {
	Snapshot() *domain.Snapshot
}

// SchedulerConfig contains relay scheduler configuration
type SchedulerConfig struct {
	MaxMessageSize int           // Rune limit of one chat message, default 2000
	ShutdownGrace  time.Duration // Bound on the final flush, default 5s
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxMessageSize: 2000,
		ShutdownGrace:  5 * time.Second,
	}
}

// RelayScheduler relays console output to the console channels and console
// commands from the channels back to the managed process.
//
// Output is flushed on a fixed delay: the next flush is armed only after the
// previous one has finished sending.
type RelayScheduler struct {
	buffer     *usecase.OutboundBuffer
	snapshots  SnapshotSource
	chatRepo   repo.ChatRepo
	dispatcher repo.CommandDispatcher
	config     SchedulerConfig
	logger     *slog.Logger

	interval atomic.Int64
	retune   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	// sendCtx outlives ctx so a flush in progress when the loop stops still
	// delivers what it drained
	sendCtx    context.Context
	sendCancel context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewRelayScheduler creates a new relay scheduler
func NewRelayScheduler(
	buffer *usecase.OutboundBuffer,
	snapshots SnapshotSource,
	chatRepo repo.ChatRepo,
	dispatcher repo.CommandDispatcher,
	config SchedulerConfig,
	logger *slog.Logger,
) *RelayScheduler {
	def := DefaultSchedulerConfig()
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = def.ShutdownGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &RelayScheduler{
		buffer:     buffer,
		snapshots:  snapshots,
		chatRepo:   chatRepo,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.With("component", "relay"),
		retune:     make(chan struct{}, 1),
	}
	s.interval.Store(int64(domain.DefaultPollInterval))
	return s
}

// Start starts the flush loop
func (s *RelayScheduler) Start(ctx context.Context) {
	if snap := s.snapshots.Snapshot(); snap != nil {
		s.interval.Store(int64(snap.PollInterval))
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sendCtx, s.sendCancel = context.WithCancel(context.WithoutCancel(ctx))

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info("Started", "interval", s.Interval())
}

// Stop stops accepting output, ends the loop and flushes what is left.
// A flush already sending is allowed to finish. Both are bounded by the
// shutdown grace period or ctx, whichever ends first.
func (s *RelayScheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.buffer.Close()

		graceCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownGrace)
		defer cancel()

		if s.cancel != nil {
			s.cancel()
			loopDone := make(chan struct{})
			go func() {
				s.wg.Wait()
				close(loopDone)
			}()
			select {
			case <-loopDone:
			case <-graceCtx.Done():
				s.logger.Warn("Flush in progress exceeded the shutdown grace, abandoning it")
				s.sendCancel()
				<-loopDone
			}
			defer s.sendCancel()
		}

		s.Flush(graceCtx)
		s.logger.Info("Stopped")
	})
}

// SetInterval changes the flush delay. A running loop picks it up without
// restarting.
func (s *RelayScheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if time.Duration(s.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case s.retune <- struct{}{}:
	default:
	}
}

// Interval returns the current flush delay
func (s *RelayScheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// RelayStats is a point-in-time view of the outbound queue
type RelayStats struct {
	Pending int
	Dropped int
}

// Stats returns the queue length and the lines dropped since the last flush
func (s *RelayScheduler) Stats() RelayStats {
	return RelayStats{Pending: s.buffer.Len(), Dropped: s.buffer.Dropped()}
}

// Push queues one console line. It never blocks.
func (s *RelayScheduler) Push(line string) {
	s.buffer.Push(line)
}

// flushLoop is the outbound flush loop
func (s *RelayScheduler) flushLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.retune:
			timer.Reset(s.Interval())
		case <-timer.C:
			s.Flush(s.sendCtx)
			timer.Reset(s.Interval())
		}
	}
}

// Flush drains the queue and sends it to every console channel.
// Channels are served concurrently; within a channel chunks go out in order.
// Failed sends are logged and not retried.
func (s *RelayScheduler) Flush(ctx context.Context) {
	entries := s.buffer.Drain()
	if len(entries) == 0 {
		return
	}

	snap := s.snapshots.Snapshot()
	if snap == nil || snap.Channels.Len() == 0 {
		s.logger.Debug("No console channels, discarding output", "lines", len(entries))
		return
	}

	chunks := domain.SplitChunks(domain.JoinEntries(entries), s.config.MaxMessageSize)

	var wg sync.WaitGroup
	for _, channelID := range snap.Channels.IDs() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.sendChunks(ctx, channelID, chunks)
		}()
	}
	wg.Wait()
}

func (s *RelayScheduler) sendChunks(ctx context.Context, channelID string, chunks []string) {
	for i, chunk := range chunks {
		if err := s.chatRepo.SendText(ctx, channelID, chunk); err != nil {
			err = errs.Wrap(err, errs.CodeRelaySendFailure, "send console output", errs.FieldChannelID(channelID))
			s.logger.Warn("Send failed", "error", err, "channel_id", channelID, "chunk", i+1, "chunks", len(chunks))
		}
	}
}

// Ingest handles a chat message from a console channel.
//
// Messages from other channels are ignored. Commands the sender may not run
// are dropped without a reply. Allowed commands go to the dispatcher, whose
// replies are queued like console output.
func (s *RelayScheduler) Ingest(ctx context.Context, msg *domain.InboundMessage) {
	if msg == nil || !msg.IsCommandCandidate() {
		return
	}
	snap := s.snapshots.Snapshot()
	if snap == nil || !snap.Channels.Contains(msg.ChannelID) {
		return
	}

	line := strings.TrimSpace(msg.Text)
	if line == "" {
		return
	}

	node := domain.CommandPath(line, s.dispatcher.CommandInfo)
	if !snap.Policy.CanExecute(msg.SenderID, node) {
		s.logger.Debug("Command denied", "sender_id", msg.SenderID, "channel_id", msg.ChannelID, "node", node)
		return
	}

	s.logger.Info("Dispatching command", "sender_id", msg.SenderID, "channel_id", msg.ChannelID, "node", node)
	sender := &chatSender{name: msg.SenderID, buffer: s.buffer}
	if err := s.dispatcher.Dispatch(ctx, sender, line); err != nil {
		s.logger.Warn("Dispatch failed", "error", err, "sender_id", msg.SenderID, "node", node)
	}
}

// chatSender routes command replies into the outbound queue
type chatSender struct {
	name   string
	buffer *usecase.OutboundBuffer
}

func (c *chatSender) Name() string { return c.name }

func (c *chatSender) SendMessage(text string) {
	for _, line := range strings.Split(text, "\n") {
		c.buffer.Push(line)
	}
}
