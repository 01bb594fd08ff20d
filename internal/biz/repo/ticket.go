package repo

import (
	"context"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
)

// TicketRepo is the rotation ticket repository interface
// Responsible for ticket persistence (SQLite)
type TicketRepo interface {
	// Save creates or updates a ticket
	Save(ctx context.Context, ticket *domain.RotationTicket) error

	// Get gets a ticket by ID
	Get(ctx context.Context, id string) (*domain.RotationTicket, error)

	// List lists the most recent tickets, newest first; limit <= 0 means all
	List(ctx context.Context, limit int) ([]*domain.RotationTicket, error)

	// ListUnfinished lists failed or interrupted tickets, oldest first
	ListUnfinished(ctx context.Context) ([]*domain.RotationTicket, error)
}
