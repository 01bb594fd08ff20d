package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
)

type staticSnapshots struct{ snap *domain.Snapshot }

func (s staticSnapshots) Snapshot() *domain.Snapshot { return s.snap }

type sentText struct {
	channel string
	text    string
}

type recordingChat struct {
	repo.ChatRepo // only SendText is used

	mu      sync.Mutex
	sent    []sentText
	failFor string
}

func (c *recordingChat) SendText(_ context.Context, channelID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if channelID == c.failFor {
		return errors.New("rate limited")
	}
	c.sent = append(c.sent, sentText{channel: channelID, text: text})
	return nil
}

func (c *recordingChat) sends() []sentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentText(nil), c.sent...)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	lines []string
	reply string
}

func (d *recordingDispatcher) CommandInfo(line string) (string, bool) { return line, true }

func (d *recordingDispatcher) Dispatch(_ context.Context, sender repo.Sender, line string) error {
	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
	if d.reply != "" {
		sender.SendMessage(d.reply)
	}
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

func newSnapshot(interval time.Duration, policy domain.PolicyConfig, channels ...string) *domain.Snapshot {
	return &domain.Snapshot{
		Token:        "cli_a:secret",
		Channels:     domain.NewChannelRegistry(channels...),
		PollInterval: interval,
		Policy:       domain.NewPolicy(policy),
	}
}

func newTestScheduler(snap *domain.Snapshot, chat *recordingChat, dispatcher *recordingDispatcher) *RelayScheduler {
	buffer := usecase.NewOutboundBuffer(usecase.DefaultBufferConfig(), nil)
	return NewRelayScheduler(buffer, staticSnapshots{snap}, chat, dispatcher, DefaultSchedulerConfig(), nil)
}

func TestRelayScheduler_BatchesLinesWithinOneInterval(t *testing.T) {
	chat := &recordingChat{}
	s := newTestScheduler(newSnapshot(750*time.Millisecond, domain.PolicyConfig{}, "oc_1"), chat, &recordingDispatcher{})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Push("L1")
	s.Push("L2")
	s.Push("L3")

	require.Eventually(t, func() bool { return len(chat.sends()) > 0 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []sentText{{channel: "oc_1", text: "L1\nL2\nL3"}}, chat.sends())
}

func TestRelayScheduler_SendsToEveryChannel(t *testing.T) {
	chat := &recordingChat{failFor: "oc_2"}
	s := newTestScheduler(newSnapshot(time.Hour, domain.PolicyConfig{}, "oc_1", "oc_2", "oc_3"), chat, &recordingDispatcher{})

	s.Push("hello")
	s.Flush(context.Background())

	got := chat.sends()
	assert.ElementsMatch(t, []sentText{{"oc_1", "hello"}, {"oc_3", "hello"}}, got)

	// failed sends are not requeued
	s.Flush(context.Background())
	assert.Len(t, chat.sends(), 2)
}

func TestRelayScheduler_SetIntervalWithoutRestart(t *testing.T) {
	chat := &recordingChat{}
	s := newTestScheduler(newSnapshot(time.Hour, domain.PolicyConfig{}, "oc_1"), chat, &recordingDispatcher{})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Push("line")
	s.SetInterval(20 * time.Millisecond)

	require.Eventually(t, func() bool { return len(chat.sends()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, s.Interval())
}

func TestRelayScheduler_StopFlushesRemaining(t *testing.T) {
	chat := &recordingChat{}
	s := newTestScheduler(newSnapshot(time.Hour, domain.PolicyConfig{}, "oc_1"), chat, &recordingDispatcher{})
	s.Start(context.Background())

	s.Push("last words")
	s.Stop(context.Background())

	assert.Equal(t, []sentText{{"oc_1", "last words"}}, chat.sends())

	s.Push("after stop")
	s.Flush(context.Background())
	assert.Len(t, chat.sends(), 1)
}

// slowChat takes delay per send and gives up when ctx ends
type slowChat struct {
	repo.ChatRepo

	delay   time.Duration
	started chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent []string
}

func newSlowChat(delay time.Duration) *slowChat {
	return &slowChat{delay: delay, started: make(chan struct{})}
}

func (c *slowChat) SendText(ctx context.Context, _ string, text string) error {
	c.once.Do(func() { close(c.started) })
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *slowChat) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func newSlowScheduler(chat *slowChat, grace time.Duration) *RelayScheduler {
	buffer := usecase.NewOutboundBuffer(usecase.DefaultBufferConfig(), nil)
	snap := newSnapshot(10*time.Millisecond, domain.PolicyConfig{}, "oc_1")
	return NewRelayScheduler(buffer, staticSnapshots{snap}, chat, &recordingDispatcher{},
		SchedulerConfig{ShutdownGrace: grace}, nil)
}

func TestRelayScheduler_StopLetsInFlightFlushFinish(t *testing.T) {
	chat := newSlowChat(200 * time.Millisecond)
	s := newSlowScheduler(chat, 5*time.Second)
	s.Start(context.Background())

	s.Push("in flight")
	select {
	case <-chat.started:
	case <-time.After(2 * time.Second):
		t.Fatal("flush never started")
	}
	s.Push("queued")
	s.Stop(context.Background())

	assert.Equal(t, []string{"in flight", "queued"}, chat.texts())
}

func TestRelayScheduler_StopAbandonsFlushAfterGrace(t *testing.T) {
	chat := newSlowChat(time.Minute)
	s := newSlowScheduler(chat, 50*time.Millisecond)
	s.Start(context.Background())

	s.Push("stuck")
	<-chat.started

	begin := time.Now()
	s.Stop(context.Background())
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.Empty(t, chat.texts())
}

func TestRelayScheduler_LongOutputIsChunked(t *testing.T) {
	chat := &recordingChat{}
	s := newTestScheduler(newSnapshot(time.Hour, domain.PolicyConfig{}, "oc_1"), chat, &recordingDispatcher{})

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	s.Push(string(long))
	s.Flush(context.Background())

	got := chat.sends()
	require.Len(t, got, 3)
	total := ""
	for _, m := range got {
		assert.LessOrEqual(t, len(m.text), 2000)
		total += m.text
	}
	assert.Equal(t, string(long), total)
}

func TestRelayScheduler_IngestWhitelistScenario(t *testing.T) {
	chat := &recordingChat{}
	dispatcher := &recordingDispatcher{}
	policy := domain.PolicyConfig{
		UseWhitelist: true,
		Whitelisted:  []string{"111"},
		Users: []domain.PermissionUser{
			{ID: "111", Nodes: []string{"cloudnet.stop"}},
			{ID: "222", Nodes: []string{"*"}},
		},
	}
	s := newTestScheduler(newSnapshot(time.Hour, policy, "oc_1"), chat, dispatcher)
	ctx := context.Background()

	s.Ingest(ctx, &domain.InboundMessage{ChannelID: "oc_1", SenderID: "222", Text: "cloudnet.stop"})
	assert.Empty(t, dispatcher.dispatched())

	s.Ingest(ctx, &domain.InboundMessage{ChannelID: "oc_1", SenderID: "111", Text: "cloudnet.stop"})
	assert.Equal(t, []string{"cloudnet.stop"}, dispatcher.dispatched())

	s.Ingest(ctx, &domain.InboundMessage{ChannelID: "oc_1", SenderID: "111", Text: "cloudnet.reload"})
	assert.Equal(t, []string{"cloudnet.stop"}, dispatcher.dispatched())

	// denial is silent
	s.Flush(ctx)
	assert.Empty(t, chat.sends())
}

func TestRelayScheduler_IngestIgnoresOtherChannelsAndBots(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	policy := domain.PolicyConfig{Users: []domain.PermissionUser{{ID: domain.DefaultUserID, Nodes: []string{"*"}}}}
	s := newTestScheduler(newSnapshot(time.Hour, policy, "oc_1"), &recordingChat{}, dispatcher)
	ctx := context.Background()

	s.Ingest(ctx, &domain.InboundMessage{ChannelID: "oc_other", SenderID: "111", Text: "list"})
	s.Ingest(ctx, &domain.InboundMessage{ChannelID: "oc_1", SenderID: "111", Text: "list", IsBot: true})
	s.Ingest(ctx, &domain.InboundMessage{ChannelID: "oc_1", SenderID: "111", Text: "   "})

	assert.Empty(t, dispatcher.dispatched())
}

func TestRelayScheduler_RepliesAreQueued(t *testing.T) {
	chat := &recordingChat{}
	dispatcher := &recordingDispatcher{reply: "Services:\nLobby-1"}
	policy := domain.PolicyConfig{Users: []domain.PermissionUser{{ID: domain.DefaultUserID, Nodes: []string{"*"}}}}
	s := newTestScheduler(newSnapshot(time.Hour, policy, "oc_1"), chat, dispatcher)

	s.Ingest(context.Background(), &domain.InboundMessage{ChannelID: "oc_1", SenderID: "111", Text: "list"})
	s.Flush(context.Background())

	assert.Equal(t, []sentText{{"oc_1", "Services:\nLobby-1"}}, chat.sends())
}
