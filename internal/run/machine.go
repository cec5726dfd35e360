package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkessler/caseboard/internal/models"
)

// State is a Run's lifecycle state.
type State string

const (
	StatePreflight     State = "preflight"
	StateRunning       State = "running"
	StateAwaitingInput State = "awaiting_input"
	StateComplete      State = "complete"
	StateError         State = "error"
)

// ErrInvalidTransition is returned when a requested edge is not in the
// transition table for the machine's current state.
var ErrInvalidTransition = errors.New("run: invalid transition")

// Transition records one applied edge.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Machine governs one delegated task's lifecycle. It is driven from a
// single event loop and performs no locking of its own.
type Machine struct {
	id     string
	taskID string
	kind   models.AgentKind

	state       State
	interrupt   *Interrupt
	errReason   string
	transitions []Transition
	log         zerolog.Logger
}

func NewMachine(taskID string, kind models.AgentKind, log zerolog.Logger) *Machine {
	return &Machine{
		id:     uuid.New().String(),
		taskID: taskID,
		kind:   kind,
		state:  StatePreflight,
		log:    log.With().Str("run", taskID).Logger(),
	}
}

func (m *Machine) ID() string             { return m.id }
func (m *Machine) TaskID() string         { return m.taskID }
func (m *Machine) Kind() models.AgentKind { return m.kind }
func (m *Machine) State() State           { return m.state }
func (m *Machine) Interrupt() *Interrupt  { return m.interrupt }

// ErrReason returns the failure reason recorded by Fail. Empty unless the
// machine is (or was) in the error state.
func (m *Machine) ErrReason() string { return m.errReason }

// Transitions returns the applied edges in order.
func (m *Machine) Transitions() []Transition {
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

func (m *Machine) apply(to State) {
	m.transitions = append(m.transitions, Transition{From: m.state, To: to, At: time.Now()})
	m.log.Debug().Str("from", string(m.state)).Str("to", string(to)).Msg("run transition")
	m.state = to
}

// Start moves preflight -> running. The caller is responsible for clearing
// any previous streaming session for this run.
func (m *Machine) Start() error {
	if m.state != StatePreflight {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.state)
	}
	m.apply(StateRunning)
	return nil
}

// AwaitInput moves running -> awaiting_input, attaching the interrupt
// atomically with the transition. Data-grounded runs never await input.
func (m *Machine) AwaitInput(in *Interrupt) error {
	if m.state != StateRunning {
		return fmt.Errorf("%w: await input from %s", ErrInvalidTransition, m.state)
	}
	if m.kind == models.KindDataGrounded {
		return fmt.Errorf("%w: data-grounded run cannot await input", ErrInvalidTransition)
	}
	if in == nil {
		return fmt.Errorf("%w: await input without interrupt", ErrInvalidTransition)
	}
	m.interrupt = in
	m.apply(StateAwaitingInput)
	return nil
}

// Resolve resolves the attached interrupt and marks the run complete. The
// reveal boundary advances to all rows in one step; it never advances
// incrementally and never moves back.
func (m *Machine) Resolve(choice any) error {
	if m.state != StateAwaitingInput || m.interrupt == nil {
		return fmt.Errorf("%w: resolve from %s", ErrInvalidTransition, m.state)
	}
	m.interrupt.Resolve(choice)
	if !m.interrupt.Resolved() {
		return fmt.Errorf("%w: resolve with invalid choice", ErrInvalidTransition)
	}
	m.apply(StateComplete)
	return nil
}

// Complete moves running -> complete.
func (m *Machine) Complete() error {
	if m.state != StateRunning {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, m.state)
	}
	m.apply(StateComplete)
	return nil
}

// Fail moves running -> error. Recovery is only via an explicit Retry.
func (m *Machine) Fail(reason string) error {
	if m.state != StateRunning {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, m.state)
	}
	m.errReason = reason
	m.log.Warn().Str("reason", reason).Msg("run failed")
	m.apply(StateError)
	return nil
}

// Retry moves error -> preflight, keeping the same task input. The caller
// then starts the run again with a fresh stream.
func (m *Machine) Retry() error {
	if m.state != StateError {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, m.state)
	}
	m.errReason = ""
	m.interrupt = nil
	m.apply(StatePreflight)
	return nil
}

// RevealBoundary reports the gate imposed by an unresolved interrupt.
// While gated it returns the anchor row ID and true; rows after the anchor
// must stay hidden. Once the gate lifts it never re-engages.
func (m *Machine) RevealBoundary() (anchorRowID string, gated bool) {
	if m.state == StateAwaitingInput && m.interrupt != nil && !m.interrupt.Resolved() {
		return m.interrupt.AnchorRowID, true
	}
	return "", false
}
