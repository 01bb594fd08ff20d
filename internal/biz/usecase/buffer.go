package usecase

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// BufferConfig contains outbound buffer configuration
type BufferConfig struct {
	Capacity int // Lines kept before the oldest are dropped, default 10000
}

// DefaultBufferConfig returns default buffer configuration
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{Capacity: 10000}
}

// OutboundBuffer is the FIFO of console lines waiting for the next flush.
// Push never blocks; when the buffer is over capacity the oldest lines are
// dropped and a single summary line reports how many were lost.
type OutboundBuffer struct {
	mu       sync.Mutex
	entries  []domain.QueueEntry
	capacity int
	dropped  int
	summary  time.Time // enqueue time of the pending summary; zero when none
	closed   bool

	now    func() time.Time
	logger *slog.Logger
}

// NewOutboundBuffer creates a new outbound buffer
func NewOutboundBuffer(config BufferConfig, logger *slog.Logger) *OutboundBuffer {
	if config.Capacity <= 0 {
		config.Capacity = DefaultBufferConfig().Capacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboundBuffer{
		capacity: config.Capacity,
		now:      time.Now,
		logger:   logger.With("component", "buffer"),
	}
}

// Push appends a line. It reports false once the buffer is closed.
func (b *OutboundBuffer) Push(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	now := b.now()
	b.entries = append(b.entries, domain.QueueEntry{Line: line, EnqueuedAt: now})
	if len(b.entries) <= b.capacity {
		return true
	}

	over := len(b.entries) - b.capacity
	clear(b.entries[:over])
	b.entries = b.entries[over:]
	if b.dropped == 0 {
		b.summary = now
		err := errs.New(errs.CodeRelayQueueOverflow, "outbound queue over capacity, dropping oldest lines",
			errs.Field("capacity", b.capacity))
		b.logger.Warn("Queue overflow", "error", err)
	}
	b.dropped += over
	return true
}

// Drain removes and returns everything queued, oldest first. A pending
// overflow summary comes first.
func (b *OutboundBuffer) Drain() []domain.QueueEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 && b.dropped == 0 {
		return nil
	}

	out := make([]domain.QueueEntry, 0, len(b.entries)+1)
	if b.dropped > 0 {
		out = append(out, domain.QueueEntry{Line: overflowSummary(b.dropped), EnqueuedAt: b.summary})
		b.dropped = 0
		b.summary = time.Time{}
	}
	out = append(out, b.entries...)
	b.entries = nil
	return out
}

// Len returns the number of queued lines, not counting the summary
func (b *OutboundBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns how many lines the pending summary accounts for
func (b *OutboundBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops accepting lines. Queued lines stay available to Drain.
func (b *OutboundBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func overflowSummary(n int) string {
	return fmt.Sprintf("[console-bridge] %d console lines were dropped because the relay queue was full", n)
}
