package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// BotUsecase owns the bot configuration: the cached document, the parsed
// snapshot built from it and the chat connection that depends on the token.
type BotUsecase struct {
	chatRepo  repo.ChatRepo
	docRepo   repo.DocumentRepo
	mergeMode domain.MergeMode
	logger    *slog.Logger

	snapshot atomic.Pointer[domain.Snapshot]
	document atomic.Pointer[domain.Document]

	// writeMu serialises reloads and document writes
	writeMu sync.Mutex

	listenersMu sync.Mutex
	listeners   []func(*domain.Snapshot)
}

// NewBotUsecase creates a new bot usecase
func NewBotUsecase(chatRepo repo.ChatRepo, docRepo repo.DocumentRepo, mergeMode domain.MergeMode, logger *slog.Logger) *BotUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &BotUsecase{
		chatRepo:  chatRepo,
		docRepo:   docRepo,
		mergeMode: mergeMode,
		logger:    logger.With("component", "bot"),
	}
}

// Snapshot returns the current configuration snapshot, nil before the first
// successful reload.
func (uc *BotUsecase) Snapshot() *domain.Snapshot {
	return uc.snapshot.Load()
}

// Document returns a copy of the cached document.
func (uc *BotUsecase) Document() domain.Document {
	doc := uc.document.Load()
	if doc == nil {
		return nil
	}
	return doc.Clone()
}

// OnReload registers fn to run after every published snapshot.
func (uc *BotUsecase) OnReload(fn func(*domain.Snapshot)) {
	uc.listenersMu.Lock()
	uc.listeners = append(uc.listeners, fn)
	uc.listenersMu.Unlock()
}

// Reload re-reads the document and publishes a new snapshot.
//
// Missing keys are filled from defaults and persisted. An invalid token fails
// the reload and leaves the previous snapshot and connection untouched. The
// chat client is reconnected only when the token changed or no connection is
// up.
func (uc *BotUsecase) Reload(ctx context.Context) error {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	doc, created, err := uc.docRepo.Load(ctx)
	if err != nil {
		return err
	}
	if created {
		uc.logger.Info("Wrote default configuration", "path", uc.docRepo.Path())
	}

	if missing := doc.MissingKeys(); len(missing) > 0 {
		merged, changed := domain.MergeDefaults(doc, domain.DefaultDocument(), uc.mergeMode)
		if changed {
			if err := uc.docRepo.Save(ctx, merged); err != nil {
				return err
			}
			uc.logger.Info("Added missing configuration keys", "keys", missing, "path", uc.docRepo.Path())
		}
		doc = merged
	}

	prev := uc.snapshot.Load()
	snap, err := domain.ParseSnapshot(doc, prev)
	if err != nil {
		uc.logger.Error("Refusing to connect", "error", err, "path", uc.docRepo.Path())
		return err
	}
	if snap.PresenceErr != nil {
		uc.logger.Warn("Invalid presence, keeping previous", "error", snap.PresenceErr)
	}

	uc.document.Store(&doc)
	uc.snapshot.Store(snap)
	uc.logger.Info("Configuration loaded",
		"channels", snap.Channels.Len(),
		"users", snap.Policy.UserCount(),
		"poll_interval", snap.PollInterval,
	)
	uc.notify(snap)

	reconnect := !uc.chatRepo.Connected() || prev == nil || prev.Token != snap.Token
	if reconnect {
		if err := uc.chatRepo.Connect(ctx, snap.Token); err != nil {
			return errs.Wrap(err, errs.CodeChatConnectFailure, "connect chat client")
		}
		uc.logger.Info("Chat client connected")
	}

	if snap.PresenceErr == nil && (reconnect || prev == nil || prev.Presence != snap.Presence) {
		if err := uc.chatRepo.SetPresence(ctx, snap.Presence); err != nil {
			uc.logger.Warn("Failed to set presence", "error", err)
		}
	}
	return nil
}

// ReplaceChannel swaps oldID for newID in the registry and in the document,
// keeping its position, and persists the document. Nothing changes when the
// write fails. Calling it again after a success is a no-op.
func (uc *BotUsecase) ReplaceChannel(ctx context.Context, oldID, newID string) error {
	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()

	snap := uc.snapshot.Load()
	if snap == nil {
		return errs.New(errs.CodeRotationChannelUnknown, "configuration not loaded", errs.FieldChannelID(oldID))
	}
	if !snap.Channels.Contains(oldID) && snap.Channels.Contains(newID) {
		return nil
	}

	channels, ok := snap.Channels.Replace(oldID, newID)
	if !ok {
		return errs.New(errs.CodeRotationChannelUnknown, "channel is not a console channel", errs.FieldChannelID(oldID))
	}

	var doc domain.Document
	if cur := uc.document.Load(); cur != nil {
		doc = *cur
	}
	doc, ok = doc.WithChannelAt(oldID, newID)
	if !ok {
		return errs.New(errs.CodeRotationChannelUnknown, "channel missing from the configuration document", errs.FieldChannelID(oldID))
	}
	if err := uc.docRepo.Save(ctx, doc); err != nil {
		return err
	}

	next := snap.WithChannels(channels)
	uc.document.Store(&doc)
	uc.snapshot.Store(next)
	uc.logger.Info("Console channel replaced", "old_channel_id", oldID, "new_channel_id", newID)
	uc.notify(next)
	return nil
}

func (uc *BotUsecase) notify(snap *domain.Snapshot) {
	uc.listenersMu.Lock()
	listeners := append([]func(*domain.Snapshot){}, uc.listeners...)
	uc.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
