package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

var errInterrupted = errors.New("rotation interrupted by shutdown")

// ChannelReferences is the local state a rotation rewrites once the chat
// platform side is done
type ChannelReferences interface {
	Snapshot() *domain.Snapshot
	ReplaceChannel(ctx context.Context, oldID, newID string) error
}

// RotationUsecase replaces console channels with fresh copies.
//
// Each run walks the ticket through copy, reposition, delete and reference
// update. A failed step stops the run and leaves the ticket failed; nothing is
// rolled back. Resume picks the ticket up at the failed step.
type RotationUsecase struct {
	chatRepo   repo.ChatRepo
	ticketRepo repo.TicketRepo
	refs       ChannelReferences
	logger     *slog.Logger
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]string // channel id -> ticket id
	closing bool
}

// NewRotationUsecase creates a new rotation usecase
func NewRotationUsecase(
	chatRepo repo.ChatRepo,
	ticketRepo repo.TicketRepo,
	refs ChannelReferences,
	logger *slog.Logger,
) *RotationUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RotationUsecase{
		chatRepo:   chatRepo,
		ticketRepo: ticketRepo,
		refs:       refs,
		logger:     logger.With("component", "rotation"),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		active:     make(map[string]string),
	}
}

// Rotate starts rotating channelID in the background and returns the new
// ticket. onDone, if set, receives the final ticket; it is done on success and
// failed otherwise.
func (uc *RotationUsecase) Rotate(ctx context.Context, channelID string, onDone func(*domain.RotationTicket)) (*domain.RotationTicket, error) {
	snap := uc.refs.Snapshot()
	if snap == nil || !snap.Channels.Contains(channelID) {
		return nil, errs.New(errs.CodeRotationChannelUnknown, "channel is not a console channel", errs.FieldChannelID(channelID))
	}

	ticket := domain.NewRotationTicket(channelID, snap.Channels.IndexOf(channelID), uc.now())
	if err := uc.claim(channelID, ticket.ID); err != nil {
		return nil, err
	}
	if err := uc.ticketRepo.Save(ctx, ticket); err != nil {
		uc.release(channelID)
		return nil, err
	}

	uc.logger.Info("Rotation started", "ticket_id", ticket.ID, "channel_id", channelID, "index", ticket.Index)
	uc.start(ticket, onDone)
	return ticket.Clone(), nil
}

// Resume continues a failed ticket from its failed step.
func (uc *RotationUsecase) Resume(ctx context.Context, ticketID string, onDone func(*domain.RotationTicket)) (*domain.RotationTicket, error) {
	ticket, err := uc.ticketRepo.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.Resumable() {
		return nil, errs.New(errs.CodeRotationTicketTerminal, "ticket is not in a failed state",
			errs.FieldTicketID(ticketID), errs.Field("state", string(ticket.State)))
	}
	if err := uc.claim(ticket.OldChannelID, ticket.ID); err != nil {
		return nil, err
	}

	uc.logger.Info("Rotation resumed", "ticket_id", ticket.ID, "channel_id", ticket.OldChannelID, "step", ticket.FailedStep)
	uc.start(ticket, onDone)
	return ticket.Clone(), nil
}

// RotateAndWait runs a rotation and blocks until it ends or ctx is done.
// A failed run is returned as a rotation step error.
func (uc *RotationUsecase) RotateAndWait(ctx context.Context, channelID string) (*domain.RotationTicket, error) {
	return uc.wait(ctx, func(done func(*domain.RotationTicket)) (*domain.RotationTicket, error) {
		return uc.Rotate(ctx, channelID, done)
	})
}

// ResumeAndWait resumes a ticket and blocks until it ends or ctx is done.
func (uc *RotationUsecase) ResumeAndWait(ctx context.Context, ticketID string) (*domain.RotationTicket, error) {
	return uc.wait(ctx, func(done func(*domain.RotationTicket)) (*domain.RotationTicket, error) {
		return uc.Resume(ctx, ticketID, done)
	})
}

// Tickets lists recent tickets, newest first.
func (uc *RotationUsecase) Tickets(ctx context.Context, limit int) ([]*domain.RotationTicket, error) {
	return uc.ticketRepo.List(ctx, limit)
}

// Ticket returns one ticket by id.
func (uc *RotationUsecase) Ticket(ctx context.Context, id string) (*domain.RotationTicket, error) {
	return uc.ticketRepo.Get(ctx, id)
}

// Recover marks tickets left mid-run by a previous process as failed at their
// next step, so they can be resumed.
func (uc *RotationUsecase) Recover(ctx context.Context) (int, error) {
	tickets, err := uc.ticketRepo.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tickets {
		if t.Failed() || t.Done() {
			continue
		}
		step, ok := t.NextStep()
		if !ok {
			continue
		}
		t.Fail(step, errInterrupted, uc.now())
		if err := uc.ticketRepo.Save(ctx, t); err != nil {
			return n, err
		}
		uc.logger.Warn("Marked interrupted rotation as failed", "ticket_id", t.ID, "channel_id", t.OldChannelID, "step", step)
		n++
	}
	return n, nil
}

// Shutdown rejects new rotations and waits for running ones. When ctx ends
// first, running rotations are cancelled and fail at their current step.
func (uc *RotationUsecase) Shutdown(ctx context.Context) {
	uc.mu.Lock()
	uc.closing = true
	uc.mu.Unlock()

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		uc.logger.Warn("Cancelling running rotations")
		uc.cancel()
		<-done
	}
	uc.cancel()
}

func (uc *RotationUsecase) wait(ctx context.Context, begin func(func(*domain.RotationTicket)) (*domain.RotationTicket, error)) (*domain.RotationTicket, error) {
	result := make(chan *domain.RotationTicket, 1)
	if _, err := begin(func(t *domain.RotationTicket) { result <- t }); err != nil {
		return nil, err
	}

	select {
	case t := <-result:
		if t.Failed() {
			return t, stepError(t)
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (uc *RotationUsecase) claim(channelID, ticketID string) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.closing {
		return errs.New(errs.CodeRotationShuttingDown, "shutting down, not starting rotation", errs.FieldChannelID(channelID))
	}
	if running, ok := uc.active[channelID]; ok {
		return errs.New(errs.CodeRotationInProgress, "channel is already being rotated",
			errs.FieldChannelID(channelID), errs.FieldTicketID(running))
	}
	uc.active[channelID] = ticketID
	uc.wg.Add(1)
	return nil
}

func (uc *RotationUsecase) release(channelID string) {
	uc.mu.Lock()
	delete(uc.active, channelID)
	uc.mu.Unlock()
	uc.wg.Done()
}

// start runs the ticket in the background. The channel is released before
// onDone runs so the callback may start another rotation of it.
func (uc *RotationUsecase) start(ticket *domain.RotationTicket, onDone func(*domain.RotationTicket)) {
	go func() {
		defer uc.wg.Done()
		uc.run(ticket)

		uc.mu.Lock()
		delete(uc.active, ticket.OldChannelID)
		uc.mu.Unlock()

		if onDone != nil {
			onDone(ticket.Clone())
		}
	}()
}

func (uc *RotationUsecase) run(ticket *domain.RotationTicket) {
	for {
		step, ok := ticket.NextStep()
		if !ok {
			uc.logger.Info("Rotation done", "ticket_id", ticket.ID,
				"old_channel_id", ticket.OldChannelID, "new_channel_id", ticket.NewChannelID)
			return
		}

		err := uc.ctx.Err()
		if err == nil {
			err = uc.execute(uc.ctx, ticket, step)
		} else {
			err = errInterrupted
		}
		if err != nil {
			ticket.Fail(step, err, uc.now())
			uc.persist(ticket)
			uc.logger.Error("Rotation failed", "error", stepError(ticket),
				"ticket_id", ticket.ID, "channel_id", ticket.OldChannelID, "step", step)
			return
		}

		ticket.Advance(step, uc.now())
		uc.persist(ticket)
		uc.logger.Debug("Rotation step done", "ticket_id", ticket.ID, "step", step, "state", ticket.State)
	}
}

func (uc *RotationUsecase) execute(ctx context.Context, ticket *domain.RotationTicket, step domain.RotationStep) error {
	switch step {
	case domain.StepCopy:
		if ticket.NewChannelID != "" {
			return nil
		}
		id, err := uc.chatRepo.CopyChannel(ctx, ticket.OldChannelID)
		if err != nil {
			return err
		}
		ticket.NewChannelID = id
		return nil
	case domain.StepReposition:
		return uc.chatRepo.MoveChannel(ctx, ticket.NewChannelID, ticket.OldChannelID)
	case domain.StepDelete:
		return uc.chatRepo.DeleteChannel(ctx, ticket.OldChannelID)
	case domain.StepReferences:
		return uc.refs.ReplaceChannel(ctx, ticket.OldChannelID, ticket.NewChannelID)
	case domain.StepComplete:
		return nil
	}
	return errs.Errorf(errs.CodeInternalFailure, "unknown rotation step %q", step)
}

// persist stores the ticket; the in-memory ticket stays authoritative for
// the running workflow when the store is unavailable.
func (uc *RotationUsecase) persist(ticket *domain.RotationTicket) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := uc.ticketRepo.Save(ctx, ticket); err != nil {
		uc.logger.Warn("Failed to persist rotation ticket", "error", err, "ticket_id", ticket.ID)
	}
}

func stepError(t *domain.RotationTicket) error {
	return errs.New(errs.CodeRotationStepFailure, "rotation step "+string(t.FailedStep)+" failed: "+t.Error,
		errs.FieldStep(string(t.FailedStep)),
		errs.FieldChannelID(t.OldChannelID),
		errs.FieldTicketID(t.ID),
	)
}
