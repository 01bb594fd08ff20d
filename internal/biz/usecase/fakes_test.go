package usecase

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

type fakeChat struct {
	mu        sync.Mutex
	connected bool
	connects  []string
	presences []domain.Presence
	sent      map[string][]string
	nextID    int
	failOn    map[string]error // method name -> error, consumed on use
	deleted   []string
	moved     [][2]string
	handler   repo.MessageHandler
}

func newFakeChat() *fakeChat {
	return &fakeChat{sent: make(map[string][]string), failOn: make(map[string]error)}
}

func (f *fakeChat) fail(method string) error {
	err, ok := f.failOn[method]
	if ok {
		delete(f.failOn, method)
	}
	return err
}

func (f *fakeChat) Connect(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("Connect"); err != nil {
		return err
	}
	f.connected = true
	f.connects = append(f.connects, token)
	return nil
}

func (f *fakeChat) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChat) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeChat) SendText(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channelID] = append(f.sent[channelID], text)
	return nil
}

func (f *fakeChat) CopyChannel(_ context.Context, channelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CopyChannel"); err != nil {
		return "", err
	}
	f.nextID++
	return channelID + "_copy" + strconv.Itoa(f.nextID), nil
}

func (f *fakeChat) MoveChannel(_ context.Context, newID, oldID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("MoveChannel"); err != nil {
		return err
	}
	f.moved = append(f.moved, [2]string{newID, oldID})
	return nil
}

func (f *fakeChat) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteChannel"); err != nil {
		return err
	}
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeChat) SetPresence(_ context.Context, p domain.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, p)
	return nil
}

func (f *fakeChat) OnMessage(h repo.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

type fakeDocs struct {
	mu      sync.Mutex
	doc     domain.Document
	saves   int
	saveErr error
}

func (f *fakeDocs) Load(context.Context) (domain.Document, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doc == nil {
		f.doc = domain.DefaultDocument()
		return f.doc.Clone(), true, nil
	}
	return f.doc.Clone(), false, nil
}

func (f *fakeDocs) Save(_ context.Context, doc domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.doc = doc.Clone()
	f.saves++
	return nil
}

func (f *fakeDocs) setSaveErr(err error) {
	f.mu.Lock()
	f.saveErr = err
	f.mu.Unlock()
}

func (f *fakeDocs) Path() string { return "memory://config.json" }

func (f *fakeDocs) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids, _ := f.doc.IDList(domain.SectionBot, domain.KeyConsoleChannels)
	return ids
}

type fakeTickets struct {
	mu      sync.Mutex
	tickets map[string]*domain.RotationTicket
	order   []string
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{tickets: make(map[string]*domain.RotationTicket)}
}

func (f *fakeTickets) Save(_ context.Context, t *domain.RotationTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tickets[t.ID]; !ok {
		f.order = append(f.order, t.ID)
	}
	f.tickets[t.ID] = t.Clone()
	return nil
}

func (f *fakeTickets) Get(_ context.Context, id string) (*domain.RotationTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, errs.New(errs.CodeRotationTicketNotFound, "ticket not found", errs.FieldTicketID(id))
	}
	return t.Clone(), nil
}

func (f *fakeTickets) List(_ context.Context, limit int) ([]*domain.RotationTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := slices.Clone(f.order)
	slices.Reverse(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*domain.RotationTicket, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.tickets[id].Clone())
	}
	return out, nil
}

func (f *fakeTickets) ListUnfinished(context.Context) ([]*domain.RotationTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.RotationTicket
	for _, id := range f.order {
		if t := f.tickets[id]; !t.Done() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

var errBoom = errors.New("boom")

func configuredDocs(channels ...string) *fakeDocs {
	doc := domain.DefaultDocument()
	bot := doc[domain.SectionBot].(map[string]any)
	bot[domain.KeyToken] = "cli_a:secret"
	ids := make([]any, len(channels))
	for i, c := range channels {
		ids[i] = c
	}
	bot[domain.KeyConsoleChannels] = ids
	return &fakeDocs{doc: doc}
}
