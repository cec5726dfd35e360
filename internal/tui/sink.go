package tui

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/run"
	"github.com/mkessler/caseboard/internal/stream"
)

// Messages delivered from the driver goroutine to the update loop. All
// state mutation happens in Update, so ordering follows channel order.

type tokenMsg struct{ text string }

type toolBeginMsg struct{ name string }

type toolStatusMsg struct {
	index  int
	status stream.ToolStatus
}

type interruptMsg struct{ interrupt *run.Interrupt }

type runDoneMsg struct{ output string }

type runFailMsg struct{ reason string }

type rowsMsg struct{ rows []models.Record }

type followUpMsg struct {
	answer string
	err    error
}

type historyMsg struct {
	summaries []models.SessionSummary
	err       error
}

// channelSink adapts the agent.EventSink contract onto bubbletea messages.
// It assigns tool indexes locally: events are consumed in send order, so
// its counter always matches the stream session's append order.
type channelSink struct {
	events    chan<- tea.Msg
	resolve   <-chan string
	nextIndex int
}

func newChannelSink(events chan<- tea.Msg, resolve <-chan string) *channelSink {
	return &channelSink{events: events, resolve: resolve}
}

func (s *channelSink) EmitTokens(text string) {
	s.events <- tokenMsg{text: text}
}

func (s *channelSink) ToolBegin(name string) int {
	index := s.nextIndex
	s.nextIndex++
	s.events <- toolBeginMsg{name: name}
	return index
}

func (s *channelSink) ToolUpdate(index int, status stream.ToolStatus) {
	s.events <- toolStatusMsg{index: index, status: status}
}

// AwaitDecision parks the driver goroutine until the consultant resolves
// the interrupt. A closed resolve channel means the surface was torn down;
// the driver then stops without failing the run.
func (s *channelSink) AwaitDecision(in *run.Interrupt) (string, error) {
	s.events <- interruptMsg{interrupt: in}
	resolution, ok := <-s.resolve
	if !ok {
		return "", errors.New("surface gone")
	}
	return resolution, nil
}

func (s *channelSink) Completed(output string) {
	s.events <- runDoneMsg{output: output}
}

func (s *channelSink) Failed(reason string) {
	s.events <- runFailMsg{reason: reason}
}

// listenEvents re-arms the single reader over the driver's event channel.
func listenEvents(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}
