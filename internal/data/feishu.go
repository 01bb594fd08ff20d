package data

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
	"github.com/devricklin/feishu-console-bridge/internal/infra/feishu"
)

// FeishuClient is the part of feishu.Client the repository uses
type FeishuClient interface {
	Start(ctx context.Context) error
	Stop()
	OnMessage(handler feishu.MessageHandler)
	SendText(ctx context.Context, chatID, text string) error
	GetChatInfo(ctx context.Context, chatID string) (*feishu.ChatInfo, error)
	CreateChat(ctx context.Context, info *feishu.ChatInfo) (string, error)
	UpdateChatPermissions(ctx context.Context, chatID string, info *feishu.ChatInfo) error
	GetChatMembers(ctx context.Context, chatID string) ([]*feishu.ChatMember, error)
	AddChatMembers(ctx context.Context, chatID string, memberIDs []string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// FeishuClientFactory builds a client for one set of app credentials
type FeishuClientFactory func(creds feishu.Credentials) FeishuClient

// NewFeishuClientFactory returns a factory producing real Feishu clients
func NewFeishuClientFactory(opts ...feishu.Option) FeishuClientFactory {
	return func(creds feishu.Credentials) FeishuClient {
		return feishu.NewClient(creds, opts...)
	}
}

// feishuRepo implements the chat repository on Feishu group chats
type feishuRepo struct {
	newClient FeishuClientFactory
	logger    *slog.Logger

	mu       sync.RWMutex
	client   FeishuClient
	handler  repo.MessageHandler
	presence domain.Presence
}

// NewFeishuRepo creates a new Feishu repository
func NewFeishuRepo(newClient FeishuClientFactory, logger *slog.Logger) repo.ChatRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &feishuRepo{newClient: newClient, logger: logger.With("component", "chat")}
}

// Connect logs in with an "app_id:app_secret" token, replacing the current client
func (r *feishuRepo) Connect(ctx context.Context, token string) error {
	creds, err := feishu.ParseToken(token)
	if err != nil {
		return err
	}

	client := r.newClient(creds)
	client.OnMessage(r.dispatch)
	if err := client.Start(ctx); err != nil {
		return errs.Wrap(err, errs.CodeChatConnectFailure, "connect to Feishu", errs.Field("app_id", creds.AppID))
	}

	r.mu.Lock()
	old := r.client
	r.client = client
	r.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	return nil
}

// Connected reports whether a client is up
func (r *feishuRepo) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil
}

// Close stops the client
func (r *feishuRepo) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client != nil {
		client.Stop()
	}
	return nil
}

// SendText sends a text message
func (r *feishuRepo) SendText(ctx context.Context, channelID, text string) error {
	client, err := r.current()
	if err != nil {
		return err
	}
	return client.SendText(ctx, channelID, text)
}

// CopyChannel creates a group chat with the name, description, owner and
// permission settings of channelID. When the permissions cannot be applied the
// new chat is disbanded again, so a retried copy starts clean.
func (r *feishuRepo) CopyChannel(ctx context.Context, channelID string) (string, error) {
	client, err := r.current()
	if err != nil {
		return "", err
	}
	info, err := client.GetChatInfo(ctx, channelID)
	if err != nil {
		return "", err
	}
	newID, err := client.CreateChat(ctx, info)
	if err != nil {
		return "", err
	}
	if err := client.UpdateChatPermissions(ctx, newID, info); err != nil {
		if derr := client.DeleteChat(ctx, newID); derr != nil {
			r.logger.Warn("Failed to remove incomplete copy", "error", derr, "channel_id", newID)
		}
		return "", err
	}
	return newID, nil
}

// MoveChannel adds every member of oldID to newID. Feishu has no channel
// ordering; sharing the audience is what puts the new chat in the old one's place.
func (r *feishuRepo) MoveChannel(ctx context.Context, newID, oldID string) error {
	client, err := r.current()
	if err != nil {
		return err
	}

	members, err := client.GetChatMembers(ctx, oldID)
	if err != nil {
		return err
	}
	info, err := client.GetChatInfo(ctx, newID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.MemberID == "" || m.MemberID == info.OwnerID {
			continue
		}
		ids = append(ids, m.MemberID)
	}
	if len(ids) == 0 {
		return nil
	}
	return client.AddChatMembers(ctx, newID, ids)
}

// DeleteChannel disbands the chat
func (r *feishuRepo) DeleteChannel(ctx context.Context, channelID string) error {
	client, err := r.current()
	if err != nil {
		return err
	}
	return client.DeleteChat(ctx, channelID)
}

// SetPresence records the presence. Feishu bots have no activity status, so
// it is only logged.
func (r *feishuRepo) SetPresence(_ context.Context, presence domain.Presence) error {
	r.mu.Lock()
	r.presence = presence
	r.mu.Unlock()
	r.logger.Debug("Presence updated", "type", presence.Type, "text", presence.Text)
	return nil
}

// OnMessage registers the inbound message handler
func (r *feishuRepo) OnMessage(handler repo.MessageHandler) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

func (r *feishuRepo) current() (FeishuClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, errs.New(errs.CodeChatNotConnected, "chat client is not connected")
	}
	return r.client, nil
}

func (r *feishuRepo) dispatch(msg *feishu.Message) {
	r.mu.RLock()
	handler := r.handler
	r.mu.RUnlock()
	if handler == nil || msg == nil {
		return
	}

	createdAt := time.Now()
	if msg.CreateTime > 0 {
		createdAt = time.UnixMilli(msg.CreateTime)
	}
	handler(context.Background(), &domain.InboundMessage{
		ID:        msg.MsgID,
		ChannelID: msg.ChatID,
		SenderID:  msg.SenderID,
		Text:      msg.Content,
		IsBot:     msg.SenderType == "app" || msg.SenderType == "bot",
		CreatedAt: createdAt,
	})
}
