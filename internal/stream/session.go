package stream

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Status is the live state of a streaming session.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusActing   Status = "acting"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// ToolStatus is a tool call's state. Transitions are forward-only.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

var toolRank = map[ToolStatus]int{
	ToolPending:   0,
	ToolRunning:   1,
	ToolCompleted: 2,
	ToolFailed:    2,
}

// ToolCall is one entry in the session's ordered tool-invocation record.
type ToolCall struct {
	Name   string
	Status ToolStatus
}

// Session accumulates the live output of exactly one in-flight run. Tokens
// are append-only; tool calls are appended in order and never reordered.
type Session struct {
	status  Status
	prompt  string
	agentID string

	tokens strings.Builder
	tools  []ToolCall

	onComplete func()
	notified   bool
	errReason  string
	log        zerolog.Logger
}

func NewSession(log zerolog.Logger) *Session {
	return &Session{status: StatusIdle, log: log}
}

// OnComplete registers the completion callback. It fires at most once per
// session instance.
func (s *Session) OnComplete(fn func()) {
	s.onComplete = fn
}

// Start begins a new session, discarding any prior tokens and tool calls.
// It fails unless the session is idle, complete or errored: at most one
// stream runs per surface.
func (s *Session) Start(prompt, agentID string) error {
	switch s.status {
	case StatusIdle, StatusComplete, StatusError:
	default:
		s.status = StatusError
		s.errReason = "stream already in flight"
		return fmt.Errorf("stream: start while %s", s.status)
	}

	s.tokens.Reset()
	s.tools = nil
	s.notified = false
	s.errReason = ""
	s.prompt = prompt
	s.agentID = agentID
	s.status = StatusThinking
	s.log.Debug().Str("agent", agentID).Msg("stream started")
	return nil
}

// AppendTokens appends streamed text. Ignored unless the session is
// thinking or acting.
func (s *Session) AppendTokens(text string) {
	if s.status != StatusThinking && s.status != StatusActing {
		return
	}
	s.tokens.WriteString(text)
}

// BeginTool appends a pending tool call and returns its index.
func (s *Session) BeginTool(name string) int {
	s.tools = append(s.tools, ToolCall{Name: name, Status: ToolPending})
	s.status = StatusActing
	return len(s.tools) - 1
}

// SetToolStatus advances one tool call's status. Backward transitions and
// out-of-range indexes are ignored.
func (s *Session) SetToolStatus(index int, status ToolStatus) {
	if index < 0 || index >= len(s.tools) {
		return
	}
	if toolRank[status] <= toolRank[s.tools[index].Status] {
		return
	}
	s.tools[index].Status = status

	if s.status == StatusActing && !s.anyToolActive() {
		s.status = StatusThinking
	}
}

func (s *Session) anyToolActive() bool {
	for _, tc := range s.tools {
		if tc.Status == ToolPending || tc.Status == ToolRunning {
			return true
		}
	}
	return false
}

// Complete marks the session done and fires the completion callback. The
// notification is edge-triggered: duplicate completion events never fire it
// twice.
func (s *Session) Complete() {
	if s.status != StatusThinking && s.status != StatusActing {
		return
	}
	s.status = StatusComplete
	if s.notified {
		return
	}
	s.notified = true
	if s.onComplete != nil {
		s.onComplete()
	}
}

// Fail marks the session errored.
func (s *Session) Fail(reason string) {
	if s.status != StatusThinking && s.status != StatusActing {
		return
	}
	s.errReason = reason
	s.status = StatusError
	s.log.Warn().Str("reason", reason).Msg("stream failed")
}

// Reset returns the session to idle, discarding accumulated state. Used
// when the surface is torn down or a full re-run is requested.
func (s *Session) Reset() {
	s.status = StatusIdle
	s.tokens.Reset()
	s.tools = nil
	s.notified = false
	s.errReason = ""
	s.prompt = ""
	s.agentID = ""
}

func (s *Session) Status() Status    { return s.status }
func (s *Session) Tokens() string    { return s.tokens.String() }
func (s *Session) ErrReason() string { return s.errReason }
func (s *Session) AgentID() string   { return s.agentID }

// ToolCalls returns the ordered tool record.
func (s *Session) ToolCalls() []ToolCall {
	out := make([]ToolCall, len(s.tools))
	copy(out, s.tools)
	return out
}

// CompletedTools returns the names of tool calls that finished
// successfully, in call order. Only these render as badges.
func (s *Session) CompletedTools() []string {
	var names []string
	for _, tc := range s.tools {
		if tc.Status == ToolCompleted {
			names = append(names, tc.Name)
		}
	}
	return names
}
