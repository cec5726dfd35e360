package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessler/caseboard/internal/logging"
	"github.com/mkessler/caseboard/internal/models"
)

func newTestInterrupt(t *testing.T) *Interrupt {
	t.Helper()
	in, err := NewInterrupt("r-12", "Which mapping should apply?", []Option{
		{Label: "Keep legacy mapping", Description: "retain the current account mapping"},
		{Label: "Adopt new mapping", Description: "switch to the proposed mapping"},
	})
	require.NoError(t, err)
	return in
}

func TestInterruptRequiresOptions(t *testing.T) {
	_, err := NewInterrupt("r-1", "prompt", nil)
	assert.Error(t, err)
}

func TestInterruptResolveFirstCallerWins(t *testing.T) {
	in := newTestInterrupt(t)

	in.Resolve(1)
	require.True(t, in.Resolved())
	assert.Equal(t, "Adopt new mapping", in.Resolution())

	in.Resolve(0)
	in.Resolve("something else entirely")
	assert.Equal(t, "Adopt new mapping", in.Resolution())
}

func TestInterruptResolveFreeText(t *testing.T) {
	in := newTestInterrupt(t)
	in.Resolve("split the difference")
	assert.Equal(t, "split the difference", in.Resolution())
}

func TestInterruptResolveRejectsBadChoices(t *testing.T) {
	in := newTestInterrupt(t)

	in.Resolve(7)
	assert.False(t, in.Resolved())
	in.Resolve(-1)
	assert.False(t, in.Resolved())
	in.Resolve("")
	assert.False(t, in.Resolved())
	in.Resolve(3.14)
	assert.False(t, in.Resolved())
}

func TestMachineDataGroundedLifecycle(t *testing.T) {
	m := NewMachine("d-001", models.KindDataGrounded, logging.Nop())
	assert.Equal(t, StatePreflight, m.State())

	require.NoError(t, m.Start())
	assert.Equal(t, StateRunning, m.State())

	require.NoError(t, m.Complete())
	assert.Equal(t, StateComplete, m.State())
}

func TestMachineDataGroundedNeverAwaitsInput(t *testing.T) {
	m := NewMachine("d-001", models.KindDataGrounded, logging.Nop())
	require.NoError(t, m.Start())

	err := m.AwaitInput(newTestInterrupt(t))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateRunning, m.State())
	assert.Nil(t, m.Interrupt())
}

func TestMachineRejectsInvalidEdges(t *testing.T) {
	m := NewMachine("d-001", models.KindKnowledgeGrounded, logging.Nop())

	// No direct jump from preflight to awaiting_input or complete.
	assert.ErrorIs(t, m.AwaitInput(newTestInterrupt(t)), ErrInvalidTransition)
	assert.ErrorIs(t, m.Complete(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Fail("nope"), ErrInvalidTransition)
	assert.ErrorIs(t, m.Retry(), ErrInvalidTransition)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrInvalidTransition)

	require.NoError(t, m.Complete())
	// complete is terminal: no re-entry into running.
	assert.ErrorIs(t, m.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Fail("late"), ErrInvalidTransition)
}

func TestMachineInterruptGateScenario(t *testing.T) {
	m := NewMachine("d-005-02", models.KindKnowledgeGrounded, logging.Nop())
	require.NoError(t, m.Start())

	_, gated := m.RevealBoundary()
	assert.False(t, gated)

	require.NoError(t, m.AwaitInput(newTestInterrupt(t)))
	assert.Equal(t, StateAwaitingInput, m.State())

	anchor, gated := m.RevealBoundary()
	require.True(t, gated)
	assert.Equal(t, "r-12", anchor)

	// Selecting option 2 resolves to its label and reveals everything in
	// one step.
	require.NoError(t, m.Resolve(1))
	assert.Equal(t, "Adopt new mapping", m.Interrupt().Resolution())
	assert.Equal(t, StateComplete, m.State())

	_, gated = m.RevealBoundary()
	assert.False(t, gated)
}

func TestMachineResolveRejectsInvalidChoice(t *testing.T) {
	m := NewMachine("d-005-02", models.KindKnowledgeGrounded, logging.Nop())
	require.NoError(t, m.Start())
	require.NoError(t, m.AwaitInput(newTestInterrupt(t)))

	assert.ErrorIs(t, m.Resolve(9), ErrInvalidTransition)
	assert.Equal(t, StateAwaitingInput, m.State())

	require.NoError(t, m.Resolve("free text answer"))
	assert.Equal(t, StateComplete, m.State())
}

func TestMachineErrorAndRetry(t *testing.T) {
	m := NewMachine("d-001", models.KindDataGrounded, logging.Nop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Fail("agent execution failed"))
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, "agent execution failed", m.ErrReason())

	// error is recoverable only via explicit retry.
	require.NoError(t, m.Retry())
	assert.Equal(t, StatePreflight, m.State())
	assert.Empty(t, m.ErrReason())

	require.NoError(t, m.Start())
	require.NoError(t, m.Complete())
}

func TestMachineTransitionsLogged(t *testing.T) {
	m := NewMachine("d-001", models.KindKnowledgeGrounded, logging.Nop())
	require.NoError(t, m.Start())
	require.NoError(t, m.AwaitInput(newTestInterrupt(t)))
	require.NoError(t, m.Resolve(0))

	ts := m.Transitions()
	require.Len(t, ts, 3)
	assert.Equal(t, StatePreflight, ts[0].From)
	assert.Equal(t, StateRunning, ts[0].To)
	assert.Equal(t, StateAwaitingInput, ts[1].To)
	assert.Equal(t, StateComplete, ts[2].To)
}
