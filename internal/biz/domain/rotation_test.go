package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotationTicket_StepsInOrder(t *testing.T) {
	now := time.Now()
	ticket := NewRotationTicket("oc_old", 1, now)
	require.NotEmpty(t, ticket.ID)

	want := []struct {
		step  RotationStep
		state RotationState
	}{
		{StepCopy, RotationCopyCreated},
		{StepReposition, RotationRepositioned},
		{StepDelete, RotationOriginalDeleted},
		{StepReferences, RotationReferencesUpdated},
		{StepComplete, RotationDone},
	}
	for _, w := range want {
		step, ok := ticket.NextStep()
		require.True(t, ok)
		assert.Equal(t, w.step, step)
		ticket.Advance(step, now)
		assert.Equal(t, w.state, ticket.State)
	}

	_, ok := ticket.NextStep()
	assert.False(t, ok)
	assert.True(t, ticket.Done())
	assert.False(t, ticket.Resumable())
}

func TestRotationTicket_FailAndResume(t *testing.T) {
	now := time.Now()
	ticket := NewRotationTicket("oc_old", 0, now)
	ticket.Advance(StepCopy, now)

	ticket.Fail(StepReposition, errors.New("forbidden"), now.Add(time.Second))

	assert.True(t, ticket.Failed())
	assert.True(t, ticket.Resumable())
	assert.Equal(t, StepReposition, ticket.FailedStep)
	assert.Equal(t, "forbidden", ticket.Error)
	assert.Equal(t, RotationCopyCreated, ticket.Reached)

	step, ok := ticket.NextStep()
	require.True(t, ok)
	assert.Equal(t, StepReposition, step)

	ticket.Advance(step, now)
	assert.Equal(t, RotationRepositioned, ticket.State)
	assert.Empty(t, ticket.Error)
	assert.Empty(t, ticket.FailedStep)
}
