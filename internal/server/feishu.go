package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
	"github.com/devricklin/feishu-console-bridge/internal/service"
)

// dedupWindow is how long a delivered message id is remembered. The event
// gateway redelivers unacknowledged events within this window.
const dedupWindow = 5 * time.Minute

// FeishuServer wires the chat client, the console and the relay together and
// owns their lifecycle
type FeishuServer struct {
	chatRepo  repo.ChatRepo
	logSource repo.LogSource
	bot       *usecase.BotUsecase
	rotation  *usecase.RotationUsecase
	relay     *service.RelayScheduler
	logger    *slog.Logger

	mu      sync.Mutex
	enabled bool

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(
	chatRepo repo.ChatRepo,
	logSource repo.LogSource,
	bot *usecase.BotUsecase,
	rotation *usecase.RotationUsecase,
	relay *service.RelayScheduler,
	logger *slog.Logger,
) *FeishuServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FeishuServer{
		chatRepo:  chatRepo,
		logSource: logSource,
		bot:       bot,
		rotation:  rotation,
		relay:     relay,
		logger:    logger.With("component", "server"),
		seenMsgs:  make(map[string]time.Time),
	}
	bot.OnReload(func(snap *domain.Snapshot) {
		relay.SetInterval(snap.PollInterval)
	})
	return s
}

// Enable loads the configuration, connects the chat client and starts
// relaying. Console lines produced before Enable are sent first.
//
// A failed load is logged and relaying starts anyway: output is discarded
// until a later reload brings up channels and a connection.
func (s *FeishuServer) Enable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return
	}

	s.chatRepo.OnMessage(s.handleMessage)
	if err := s.bot.Reload(ctx); err != nil {
		s.logger.Error("Configuration not loaded, relaying stays idle until a reload succeeds", "error", err)
	}

	if n, err := s.rotation.Recover(ctx); err != nil {
		s.logger.Warn("Failed to recover rotation tickets", "error", err)
	} else if n > 0 {
		s.logger.Warn("Interrupted rotations need resuming", "tickets", n)
	}

	s.relay.Start(ctx)

	cached := s.logSource.Cached()
	for _, line := range cached {
		s.relay.Push(line)
	}
	s.logSource.Subscribe(s.relay.Push)

	s.enabled = true
	s.logger.Info("Enabled", "cached_lines", len(cached))
}

// Disable stops relaying. Running rotations get until ctx ends, remaining
// output gets a final flush and the chat client is closed last.
func (s *FeishuServer) Disable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}

	s.logSource.Unsubscribe()
	s.rotation.Shutdown(ctx)
	s.relay.Stop(ctx)
	if err := s.chatRepo.Close(); err != nil {
		s.logger.Warn("Failed to close chat client", "error", err)
	}

	s.enabled = false
	s.logger.Info("Disabled")
}

// handleMessage handles chat messages
func (s *FeishuServer) handleMessage(ctx context.Context, msg *domain.InboundMessage) {
	if msg.ID != "" {
		if s.isMessageSeen(msg.ID) {
			s.logger.Debug("Duplicate message ignored", "message_id", msg.ID)
			return
		}
		s.markMessageSeen(msg.ID)
	}
	s.relay.Ingest(ctx, msg)
}

// isMessageSeen checks if a message has been processed
func (s *FeishuServer) isMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()
	_, exists := s.seenMsgs[msgID]
	return exists
}

// markMessageSeen marks a message as processed and forgets expired ones
func (s *FeishuServer) markMessageSeen(msgID string) {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := time.Now()
	s.seenMsgs[msgID] = now

	cutoff := now.Add(-dedupWindow)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
}
