package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/data/migrations"
	"github.com/devricklin/feishu-console-bridge/internal/errs"

	_ "modernc.org/sqlite"
)

// ticketRepo implements the rotation ticket repository
type ticketRepo struct {
	db *sql.DB
}

// TicketStore is the sqlite ticket repository; Close releases the database
type TicketStore interface {
	Save(ctx context.Context, ticket *domain.RotationTicket) error
	Get(ctx context.Context, id string) (*domain.RotationTicket, error)
	List(ctx context.Context, limit int) ([]*domain.RotationTicket, error)
	ListUnfinished(ctx context.Context) ([]*domain.RotationTicket, error)
	Close() error
}

// NewTicketRepo opens (creating if needed) the ticket database at dbPath and
// migrates it to the latest schema
func NewTicketRepo(dbPath string) (TicketStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "open ticket database", errs.Field("path", dbPath))
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "migrate ticket database", errs.Field("path", dbPath))
	}

	return &ticketRepo{db: db}, nil
}

// CheckTicketStore reports whether the ticket database at dbPath is at the
// schema version this binary expects. A missing database is a not-found error
// and is not created.
func CheckTicketStore(dbPath string) error {
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return errs.New(errs.CodeStoreDatabaseMissing, "ticket database does not exist yet", errs.Field("path", dbPath))
	} else if err != nil {
		return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "stat ticket database", errs.Field("path", dbPath))
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "open ticket database", errs.Field("path", dbPath))
	}
	defer db.Close()

	if err := migrations.CheckStatus(db); err != nil {
		return errs.Wrap(err, errs.CodeStoreSchemaMismatch, "check ticket database schema", errs.Field("path", dbPath))
	}
	return nil
}

// Save creates or updates a ticket
func (r *ticketRepo) Save(ctx context.Context, t *domain.RotationTicket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rotation_tickets
			(id, old_channel_id, new_channel_id, channel_index, state, reached, failed_step, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.OldChannelID,
		t.NewChannelID,
		t.Index,
		string(t.State),
		string(t.Reached),
		string(t.FailedStep),
		t.Error,
		t.CreatedAt.UnixMilli(),
		t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreDatabaseFailure, "save rotation ticket", errs.FieldTicketID(t.ID))
	}
	return nil
}

// Get gets a ticket by ID
func (r *ticketRepo) Get(ctx context.Context, id string) (*domain.RotationTicket, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, old_channel_id, new_channel_id, channel_index, state, reached, failed_step, error, created_at, updated_at
		FROM rotation_tickets
		WHERE id = ?
	`, id)

	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.CodeRotationTicketNotFound, "rotation ticket not found", errs.FieldTicketID(id))
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "query rotation ticket", errs.FieldTicketID(id))
	}
	return t, nil
}

// List lists tickets, newest first
func (r *ticketRepo) List(ctx context.Context, limit int) ([]*domain.RotationTicket, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, old_channel_id, new_channel_id, channel_index, state, reached, failed_step, error, created_at, updated_at
		FROM rotation_tickets
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "list rotation tickets")
	}
	return collectTickets(rows)
}

// ListUnfinished lists tickets that are not done, oldest first
func (r *ticketRepo) ListUnfinished(ctx context.Context) ([]*domain.RotationTicket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, old_channel_id, new_channel_id, channel_index, state, reached, failed_step, error, created_at, updated_at
		FROM rotation_tickets
		WHERE state != ?
		ORDER BY created_at ASC, id
	`, string(domain.RotationDone))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "list unfinished rotation tickets")
	}
	return collectTickets(rows)
}

// Close closes the database
func (r *ticketRepo) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.RotationTicket, error) {
	var (
		t                    domain.RotationTicket
		state, reached, step string
		createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.OldChannelID, &t.NewChannelID, &t.Index, &state, &reached, &step, &t.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.State = domain.RotationState(state)
	t.Reached = domain.RotationState(reached)
	t.FailedStep = domain.RotationStep(step)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return &t, nil
}

func collectTickets(rows *sql.Rows) ([]*domain.RotationTicket, error) {
	defer rows.Close()

	var tickets []*domain.RotationTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "scan rotation ticket")
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreDatabaseFailure, "iterate rotation tickets")
	}
	return tickets, nil
}
