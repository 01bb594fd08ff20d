package mcp

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
	"github.com/devricklin/feishu-console-bridge/internal/data"
	"github.com/devricklin/feishu-console-bridge/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocument = `{
  "bot": {"token": "cli_a:secret", "consoleChannelIds": ["oc_1", "oc_2"], "delay_between_queue_polls_ms": 500},
  "presence": {"type": "LISTENING", "text": "the console"},
  "permissions": {
    "useWhitelist": true,
    "useBlacklist": false,
    "whitelistedUsers": ["ou_admin"],
    "blacklistedUsers": [],
    "users": {"ou_admin": ["*"]}
  }
}`

type fakeChat struct {
	mu      sync.Mutex
	copies  int
	deleted []string
}

func (f *fakeChat) Connect(context.Context, string) error             { return nil }
func (f *fakeChat) Connected() bool                                   { return true }
func (f *fakeChat) Close() error                                      { return nil }
func (f *fakeChat) SendText(context.Context, string, string) error    { return nil }
func (f *fakeChat) MoveChannel(context.Context, string, string) error { return nil }
func (f *fakeChat) SetPresence(context.Context, domain.Presence) error {
	return nil
}
func (f *fakeChat) OnMessage(repo.MessageHandler) {}

func (f *fakeChat) CopyChannel(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	return id + "_new", nil
}

func (f *fakeChat) DeleteChannel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type noopDispatcher struct{}

func (noopDispatcher) CommandInfo(string) (string, bool)                   { return "", false }
func (noopDispatcher) Dispatch(context.Context, repo.Sender, string) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeChat) {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(docPath, []byte(testDocument), 0o600))

	tickets, err := data.NewTicketRepo(filepath.Join(dir, data.TicketDBName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tickets.Close() })

	chat := &fakeChat{}
	bot := usecase.NewBotUsecase(chat, data.NewDocumentRepo(docPath), domain.MergeShallow, nil)
	rotation := usecase.NewRotationUsecase(chat, tickets, bot, nil)
	relay := service.NewRelayScheduler(usecase.NewOutboundBuffer(usecase.BufferConfig{}, nil), bot, chat, noopDispatcher{}, service.SchedulerConfig{}, nil)
	return NewServer(bot, rotation, relay, "test", nil), chat
}

func TestStatusBeforeReload(t *testing.T) {
	s, _ := newTestServer(t)

	_, st, err := s.handleStatus(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.False(t, st.Loaded)
	assert.Empty(t, st.Channels)
}

func TestReloadReportsStatus(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.handleReload(context.Background(), nil, ReloadInput{})
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	require.NotNil(t, out.Status)
	assert.True(t, out.Status.Loaded)
	assert.Equal(t, []string{"oc_1", "oc_2"}, out.Status.Channels)
	assert.True(t, out.Status.UseWhitelist)
	assert.False(t, out.Status.UseBlacklist)
	assert.Equal(t, 1, out.Status.Users)
	assert.Equal(t, "LISTENING the console", out.Status.Presence)
	assert.Empty(t, out.Warnings)
}

func TestRotateChannelAndList(t *testing.T) {
	s, chat := newTestServer(t)
	ctx := context.Background()
	_, _, err := s.handleReload(ctx, nil, ReloadInput{})
	require.NoError(t, err)

	_, out, err := s.handleRotateChannel(ctx, nil, RotateChannelInput{ChannelID: "oc_2", Wait: true})
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	require.NotNil(t, out.Ticket)
	assert.Equal(t, string(domain.RotationDone), out.Ticket.State)
	assert.Equal(t, "oc_2_new", out.Ticket.NewChannelID)
	assert.Equal(t, 1, out.Ticket.Index)
	assert.Equal(t, []string{"oc_2"}, chat.deleted)

	_, st, err := s.handleStatus(ctx, nil, StatusInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"oc_1", "oc_2_new"}, st.Channels)

	_, list, err := s.handleListRotations(ctx, nil, ListRotationsInput{})
	require.NoError(t, err)
	require.Len(t, list.Tickets, 1)
	assert.Equal(t, out.Ticket.ID, list.Tickets[0].ID)
}

func TestRotateChannelErrors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_, _, err := s.handleReload(ctx, nil, ReloadInput{})
	require.NoError(t, err)

	_, out, err := s.handleRotateChannel(ctx, nil, RotateChannelInput{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "channel_id is required", out.Error)

	_, out, err = s.handleRotateChannel(ctx, nil, RotateChannelInput{ChannelID: "oc_unknown", Wait: true})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
}

func TestResumeRotationRejectsFinishedTicket(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_, _, err := s.handleReload(ctx, nil, ReloadInput{})
	require.NoError(t, err)

	_, rotated, err := s.handleRotateChannel(ctx, nil, RotateChannelInput{ChannelID: "oc_1", Wait: true})
	require.NoError(t, err)
	require.True(t, rotated.Success, rotated.Error)

	_, out, err := s.handleResumeRotation(ctx, nil, ResumeRotationInput{TicketID: rotated.Ticket.ID})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)

	_, out, err = s.handleResumeRotation(ctx, nil, ResumeRotationInput{TicketID: "missing"})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestHandlerIsServable(t *testing.T) {
	s, _ := newTestServer(t)
	assert.NotNil(t, s.Handler())
}
