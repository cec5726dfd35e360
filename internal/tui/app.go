package tui

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/mkessler/caseboard/internal/agent"
	"github.com/mkessler/caseboard/internal/keymap"
	"github.com/mkessler/caseboard/internal/ledger"
	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/remote"
	"github.com/mkessler/caseboard/internal/run"
	"github.com/mkessler/caseboard/internal/stream"
	"github.com/mkessler/caseboard/internal/workshop"
)

type View int

const (
	ViewTaskBoard View = iota
	ViewRun
	ViewWorkshop
	ViewHistory
)

type inputMode int

const (
	inputNone inputMode = iota
	inputAnswer
	inputFollowUp
	inputCapture
	inputPalette
)

type App struct {
	tasks    map[string]*models.Task
	taskIDs  []string
	remote   *remote.Client
	results  *ledger.Store
	sessions *workshop.Manager
	log      zerolog.Logger

	view        View
	selectedIdx int
	width       int
	height      int
	err         error
	notice      string

	// Run surface state. Machine and stream session are owned here and do
	// not outlive the surface.
	machine    *run.Machine
	session    *stream.Session
	runTask    *models.Task
	rows       []models.Record
	events     chan tea.Msg
	resolve    chan string
	pending    *run.Interrupt
	lastOutput string
	entry      *models.LedgerEntry

	// Workshop surface state.
	wsTask  *models.Task
	history []models.SessionSummary

	input       textinput.Model
	inputMode   inputMode
	captureMode keymap.CaptureMode
	paletteIdx  int
}

func NewApp(tasks map[string]*models.Task, client *remote.Client, results *ledger.Store, sessions *workshop.Manager, log zerolog.Logger) *App {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	input := textinput.New()
	input.CharLimit = 240

	return &App{
		tasks:    tasks,
		taskIDs:  ids,
		remote:   client,
		results:  results,
		sessions: sessions,
		log:      log,
		view:     ViewTaskBoard,
		input:    input,
	}
}

func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

func (a *App) selectedTask() *models.Task {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.taskIDs) {
		return nil
	}
	return a.tasks[a.taskIDs[a.selectedIdx]]
}

func (a *App) focusKind() keymap.FocusKind {
	if a.inputMode != inputNone {
		return keymap.FocusText
	}
	return keymap.FocusNone
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case rowsMsg:
		a.rows = msg.rows
		return a, a.launchDriver()

	case tokenMsg:
		if a.session != nil {
			a.session.AppendTokens(msg.text)
		}
		return a, listenEvents(a.events)

	case toolBeginMsg:
		if a.session != nil {
			a.session.BeginTool(msg.name)
		}
		return a, listenEvents(a.events)

	case toolStatusMsg:
		if a.session != nil {
			a.session.SetToolStatus(msg.index, msg.status)
		}
		return a, listenEvents(a.events)

	case interruptMsg:
		if a.machine != nil {
			if err := a.machine.AwaitInput(msg.interrupt); err != nil {
				a.log.Warn().Err(err).Msg("interrupt rejected")
			} else {
				a.pending = msg.interrupt
			}
		}
		return a, listenEvents(a.events)

	case runDoneMsg:
		a.lastOutput = msg.output
		if a.machine != nil && a.machine.State() == run.StateRunning {
			a.machine.Complete()
		}
		if a.session != nil {
			a.session.Complete()
		}
		return a, nil

	case runFailMsg:
		if a.machine != nil && a.machine.State() == run.StateRunning {
			a.machine.Fail(msg.reason)
		}
		if a.session != nil {
			a.session.Fail(msg.reason)
		}
		return a, nil

	case followUpMsg:
		if msg.err != nil {
			a.notice = "follow-up unavailable: " + msg.err.Error()
			return a, nil
		}
		if a.runTask != nil {
			key := ledger.Key(a.runTask.Engagement, a.runTask.ID)
			if err := a.results.AppendFollowUp(key, models.ResultEntry{
				Output:      msg.answer,
				ToolBadges:  []string{},
				CompletedAt: time.Now(),
			}); err != nil {
				a.err = err
			}
			a.reloadEntry()
		}
		return a, nil

	case historyMsg:
		a.history = msg.summaries
		a.err = msg.err
		if msg.err == nil {
			a.view = ViewHistory
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The workshop view routes through keymap, which already gives the
	// palette toggle precedence. Everywhere else intercept it here so the
	// palette opens from any view.
	if a.view != ViewWorkshop {
		if msg.String() == "ctrl+k" {
			a.togglePalette()
			return a, nil
		}
		if a.inputMode == inputPalette {
			return a.handlePaletteKey(msg)
		}
	}

	switch a.view {
	case ViewTaskBoard:
		return a.handleTaskBoardKey(msg)
	case ViewRun:
		return a.handleRunKey(msg)
	case ViewWorkshop:
		return a.handleWorkshopKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	}
	return a, nil
}

func (a *App) handleTaskBoardKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.taskIDs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if t := a.selectedTask(); t != nil {
			a.openRunSurface(t)
		}

	case "w":
		if t := a.selectedTask(); t != nil {
			a.wsTask = t
			a.view = ViewWorkshop
			a.notice = ""
		}

	case "h":
		if t := a.selectedTask(); t != nil {
			return a, a.loadHistory(t.Engagement)
		}
	}

	return a, nil
}

func (a *App) openRunSurface(t *models.Task) {
	a.runTask = t
	a.view = ViewRun
	a.err = nil
	a.notice = ""
	a.reloadEntry()
}

func keyFor(t *models.Task) string {
	return ledger.Key(t.Engagement, t.ID)
}

func (a *App) reloadEntry() {
	if a.runTask == nil {
		a.entry = nil
		return
	}
	entry, err := a.results.Get(ledger.Key(a.runTask.Engagement, a.runTask.ID))
	if err != nil {
		a.entry = nil
		return
	}
	a.entry = &entry
}

func (a *App) handleRunKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return a, tea.Quit
	}

	if a.inputMode == inputAnswer || a.inputMode == inputFollowUp {
		switch key {
		case "esc":
			a.blurInput()
			return a, nil
		case "enter":
			return a, a.submitRunInput()
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}

	switch key {
	case "q", "esc":
		a.teardownRun()
		a.view = ViewTaskBoard
		return a, nil

	case "s":
		if a.machine == nil {
			return a, a.startRun(false)
		}

	case "r":
		if a.machine != nil && a.machine.State() == run.StateError {
			return a, a.retryRun()
		}
		// Full re-run clears the ledger entry first.
		if a.machine == nil || a.machine.State() == run.StateComplete {
			return a, a.startRun(true)
		}

	case "t":
		if a.pending != nil {
			a.focusInput(inputAnswer, "answer")
		}

	case "f":
		if a.entry != nil && a.entry.Primary != nil && !a.runInFlight() {
			a.focusInput(inputFollowUp, "follow-up")
		}

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		if a.pending != nil {
			return a, a.resolveInterrupt(int(key[0]-'1'), "")
		}
	}

	return a, nil
}

func (a *App) runInFlight() bool {
	if a.machine == nil {
		return false
	}
	switch a.machine.State() {
	case run.StateRunning, run.StateAwaitingInput:
		return true
	}
	return false
}

func (a *App) submitRunInput() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	mode := a.inputMode
	a.blurInput()
	if text == "" {
		return nil
	}

	switch mode {
	case inputAnswer:
		if a.pending != nil {
			return a.resolveInterrupt(-1, text)
		}
	case inputFollowUp:
		return a.askFollowUp(text)
	}
	return nil
}

// resolveInterrupt resolves the pending interrupt with either an option
// index or free text, releasing the reveal gate and the parked driver.
func (a *App) resolveInterrupt(optionIdx int, freeText string) tea.Cmd {
	if a.machine == nil || a.pending == nil {
		return nil
	}

	var choice any
	if freeText != "" {
		choice = freeText
	} else {
		choice = optionIdx
	}

	if err := a.machine.Resolve(choice); err != nil {
		a.log.Warn().Err(err).Msg("resolution rejected")
		return nil
	}

	resolution := a.pending.Resolution()
	a.pending = nil
	if a.resolve != nil {
		a.resolve <- resolution
	}
	// The interruptMsg handler already re-armed the event listener; arming
	// it again here would race a second reader onto the channel.
	return nil
}

func (a *App) startRun(clearLedger bool) tea.Cmd {
	t := a.runTask
	if t == nil {
		return nil
	}

	if clearLedger {
		if err := a.results.Clear(ledger.Key(t.Engagement, t.ID)); err != nil {
			a.err = err
			return nil
		}
		a.entry = nil
	}

	a.machine = run.NewMachine(t.ID, t.Kind, a.log)
	a.session = stream.NewSession(a.log)
	a.session.OnComplete(a.commitResult)
	a.pending = nil
	a.lastOutput = ""
	a.rows = nil
	a.events = make(chan tea.Msg, 256)
	a.resolve = make(chan string, 1)

	if err := a.machine.Start(); err != nil {
		a.err = err
		return nil
	}
	if err := a.session.Start(t.Prompt, t.ID); err != nil {
		a.err = err
		return nil
	}

	return a.fetchRows(t)
}

func (a *App) retryRun() tea.Cmd {
	t := a.runTask
	if t == nil || a.machine == nil {
		return nil
	}
	if err := a.machine.Retry(); err != nil {
		a.err = err
		return nil
	}

	// Retry re-enters running with the same input and a fresh stream.
	a.session.Reset()
	a.session.OnComplete(a.commitResult)
	a.pending = nil
	a.lastOutput = ""
	a.events = make(chan tea.Msg, 256)
	a.resolve = make(chan string, 1)

	if err := a.machine.Start(); err != nil {
		a.err = err
		return nil
	}
	if err := a.session.Start(t.Prompt, t.ID); err != nil {
		a.err = err
		return nil
	}

	return a.fetchRows(t)
}

func (a *App) fetchRows(t *models.Task) tea.Cmd {
	client := a.remote
	domain := t.Domain
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return rowsMsg{rows: client.Fetch(ctx, domain)}
	}
}

func (a *App) launchDriver() tea.Cmd {
	t := a.runTask
	if t == nil || a.events == nil {
		return nil
	}

	sink := newChannelSink(a.events, a.resolve)
	driver := agent.NewDriver(*t, a.rows, sink, a.log)
	go driver.Run(t.Prompt)

	return listenEvents(a.events)
}

// commitResult fires on the stream's once-only completion edge and writes
// the primary result into the ledger.
func (a *App) commitResult() {
	if a.runTask == nil || a.session == nil {
		return
	}
	badges := a.session.CompletedTools()
	if badges == nil {
		badges = []string{}
	}
	key := ledger.Key(a.runTask.Engagement, a.runTask.ID)
	if err := a.results.SavePrimary(key, models.ResultEntry{
		Output:      a.lastOutput,
		ToolBadges:  badges,
		CompletedAt: time.Now(),
	}); err != nil {
		a.err = err
		return
	}
	a.reloadEntry()
}

func (a *App) askFollowUp(question string) tea.Cmd {
	t := a.runTask
	if t == nil {
		return nil
	}
	client := a.remote
	log := a.log
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		rows := client.Fetch(ctx, t.Domain)
		driver := agent.NewDriver(*t, rows, discardSink{}, log)
		answer, err := driver.FollowUp(question, t.Prompt)
		return followUpMsg{answer: answer, err: err}
	}
}

// teardownRun discards the surface's run and stream. The ledger keeps its
// committed entries; an in-flight driver parked on a decision is released
// by closing the resolve channel.
func (a *App) teardownRun() {
	if a.resolve != nil {
		close(a.resolve)
		a.resolve = nil
	}
	a.machine = nil
	if a.session != nil {
		a.session.Reset()
	}
	a.session = nil
	a.pending = nil
	a.rows = nil
	a.events = nil
	a.lastOutput = ""
	a.blurInput()
}

func (a *App) handleWorkshopKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return a, tea.Quit
	}

	active := a.wsTask != nil && a.sessions.Active(a.wsTask.Engagement) != nil

	intent := keymap.Route(key, a.focusKind(), a.inputMode == inputPalette)
	switch intent.Kind {
	case keymap.IntentTogglePalette:
		a.togglePalette()
		return a, nil

	case keymap.IntentDeselect:
		if a.inputMode != inputNone {
			a.blurInput()
			return a, nil
		}
		a.view = ViewTaskBoard
		return a, nil

	case keymap.IntentFocusCapture:
		if active {
			a.captureMode = intent.Mode
			a.focusInput(inputCapture, string(intent.Mode))
			return a, nil
		}
	}

	if a.inputMode == inputPalette {
		return a.handlePaletteKey(msg)
	}

	if a.inputMode == inputCapture {
		if key == "enter" {
			return a, a.submitCapture()
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}

	switch key {
	case "q":
		return a, tea.Quit

	case "n":
		if !active && a.wsTask != nil {
			a.startWorkshop(false)
		}

	case "r":
		if !active && a.wsTask != nil {
			a.startWorkshop(true)
		}

	case "e":
		if active {
			a.endWorkshop()
		}

	case "h":
		if a.wsTask != nil {
			return a, a.loadHistory(a.wsTask.Engagement)
		}
	}

	return a, nil
}

func (a *App) startWorkshop(resume bool) {
	t := a.wsTask
	if t == nil {
		return
	}
	sess, err := a.sessions.Start(t.ID, t.Title, workshop.StartOptions{
		EngagementID: t.Engagement,
		Resume:       resume,
	})
	if err != nil {
		a.err = err
		return
	}
	a.err = nil
	if sess.Recovered {
		a.notice = "saved session was unreadable; started fresh"
	} else if resume {
		a.notice = "session resumed"
	} else {
		a.notice = "session started"
	}
}

func (a *App) endWorkshop() {
	t := a.wsTask
	if t == nil {
		return
	}
	if err := a.sessions.End(t.Engagement); err != nil {
		a.err = err
		return
	}
	a.notice = "session ended"
	a.blurInput()
}

var captureStats = map[keymap.CaptureMode]models.StatKind{
	keymap.ModeNewItem:    models.StatNewItems,
	keymap.ModeModify:     models.StatModifiedItems,
	keymap.ModeNode:       models.StatNewNodes,
	keymap.ModePlace:      models.StatPlacedNodes,
	keymap.ModeGap:        models.StatGapsFlagged,
	keymap.ModeDeleteNode: models.StatDeletedNodes,
}

// submitCapture records the capture against the session stats and, for
// record edits, dispatches an optimistic partial update. The local count
// stands regardless of the update's fate.
func (a *App) submitCapture() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	mode := a.captureMode
	a.input.SetValue("")

	if text == "" || a.wsTask == nil {
		return nil
	}

	t := a.wsTask
	if kind, ok := captureStats[mode]; ok {
		a.sessions.RecordStat(t.Engagement, kind, 1)
	}

	if mode != keymap.ModeModify {
		return nil
	}

	recordID, fields := parseCapture(text)
	if recordID == "" || len(fields) == 0 {
		return nil
	}

	client := a.remote
	domain := t.Domain
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		client.Patch(ctx, domain, recordID, fields)
		return nil
	}
}

// parseCapture splits "rec-id field=value field=value" capture text.
func parseCapture(text string) (string, map[string]string) {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return "", nil
	}

	fields := make(map[string]string)
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			continue
		}
		fields[k] = v
	}
	return parts[0], fields
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewTaskBoard
	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) loadHistory(engagementID string) tea.Cmd {
	sessions := a.sessions
	return func() tea.Msg {
		summaries, err := sessions.History(engagementID)
		return historyMsg{summaries: summaries, err: err}
	}
}

func (a *App) focusInput(mode inputMode, prompt string) {
	a.inputMode = mode
	a.input.Prompt = prompt + "> "
	a.input.SetValue("")
	a.input.Focus()
}

func (a *App) blurInput() {
	a.inputMode = inputNone
	a.input.Blur()
	a.input.SetValue("")
}

// discardSink backs follow-up drivers, which never stream.
type discardSink struct{}

func (discardSink) EmitTokens(string)                  {}
func (discardSink) ToolBegin(string) int               { return 0 }
func (discardSink) ToolUpdate(int, stream.ToolStatus)  {}
func (discardSink) Completed(string)                   {}
func (discardSink) Failed(string)                      {}
func (discardSink) AwaitDecision(*run.Interrupt) (string, error) {
	return "", nil
}
