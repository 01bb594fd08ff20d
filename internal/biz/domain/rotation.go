package domain

import (
	"time"

	"github.com/google/uuid"
)

// RotationState is the position of a rotation ticket in the workflow
type RotationState string

const (
	RotationIdle              RotationState = "idle"
	RotationCopyCreated       RotationState = "copy_created"
	RotationRepositioned      RotationState = "repositioned"
	RotationOriginalDeleted   RotationState = "original_deleted"
	RotationReferencesUpdated RotationState = "references_updated"
	RotationDone              RotationState = "done"
	RotationFailed            RotationState = "failed"
)

// RotationStep names an action of the workflow.
type RotationStep string

const (
	StepCopy       RotationStep = "copy"
	StepReposition RotationStep = "reposition"
	StepDelete     RotationStep = "delete"
	StepReferences RotationStep = "references"
	StepComplete   RotationStep = "complete"
)

// stepOrder pairs each step with the state reached once it succeeds.
var stepOrder = []struct {
	step    RotationStep
	reaches RotationState
}{
	{StepCopy, RotationCopyCreated},
	{StepReposition, RotationRepositioned},
	{StepDelete, RotationOriginalDeleted},
	{StepReferences, RotationReferencesUpdated},
	{StepComplete, RotationDone},
}

// RotationTicket tracks a single channel rotation.
//
// Reached is the last successful state; it differs from State only while the
// ticket is failed, so Resume can pick up after it.
type RotationTicket struct {
	ID           string
	OldChannelID string
	NewChannelID string
	// Index is the old channel's position in the registry when the rotation started
	Index      int
	State      RotationState
	Reached    RotationState
	FailedStep RotationStep
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewRotationTicket creates an idle ticket for oldChannelID.
func NewRotationTicket(oldChannelID string, index int, now time.Time) *RotationTicket {
	return &RotationTicket{
		ID:           uuid.NewString(),
		OldChannelID: oldChannelID,
		Index:        index,
		State:        RotationIdle,
		Reached:      RotationIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NextStep returns the step that follows the last reached state.
// ok is false once the ticket is done.
func (t *RotationTicket) NextStep() (RotationStep, bool) {
	if t.Reached == RotationIdle {
		return stepOrder[0].step, true
	}
	for i, s := range stepOrder {
		if s.reaches == t.Reached {
			if i+1 < len(stepOrder) {
				return stepOrder[i+1].step, true
			}
			return "", false
		}
	}
	return "", false
}

// Advance records that step succeeded.
func (t *RotationTicket) Advance(step RotationStep, now time.Time) {
	for _, s := range stepOrder {
		if s.step == step {
			t.State = s.reaches
			t.Reached = s.reaches
			t.FailedStep = ""
			t.Error = ""
			t.UpdatedAt = now
			return
		}
	}
}

// Fail marks the ticket failed at step with cause.
func (t *RotationTicket) Fail(step RotationStep, cause error, now time.Time) {
	t.State = RotationFailed
	t.FailedStep = step
	if cause != nil {
		t.Error = cause.Error()
	}
	t.UpdatedAt = now
}

// Done reports whether the rotation completed.
func (t *RotationTicket) Done() bool { return t.State == RotationDone }

// Failed reports whether the last step failed.
func (t *RotationTicket) Failed() bool { return t.State == RotationFailed }

// Resumable reports whether Resume may continue this ticket.
func (t *RotationTicket) Resumable() bool { return t.State == RotationFailed }

// Clone returns a copy safe to hand to other goroutines.
func (t *RotationTicket) Clone() *RotationTicket {
	cp := *t
	return &cp
}
