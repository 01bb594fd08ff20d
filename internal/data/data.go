package data

import (
	"log/slog"
	"path/filepath"

	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/infra/feishu"
)

// TicketDBName is the ticket database file inside the state directory
const TicketDBName = "bridge.db"

// Repositories contains all repositories
type Repositories struct {
	Chat     repo.ChatRepo
	Document repo.DocumentRepo
	Ticket   TicketStore
}

// NewRepositories creates all repositories
func NewRepositories(documentPath, stateDir string, feishuOpts []feishu.Option, logger *slog.Logger) (*Repositories, error) {
	ticketRepo, err := NewTicketRepo(filepath.Join(stateDir, TicketDBName))
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Chat:     NewFeishuRepo(NewFeishuClientFactory(feishuOpts...), logger),
		Document: NewDocumentRepo(documentPath),
		Ticket:   ticketRepo,
	}, nil
}

// Close releases the repositories that hold resources
func (r *Repositories) Close() error {
	chatErr := r.Chat.Close()
	if err := r.Ticket.Close(); err != nil {
		return err
	}
	return chatErr
}
