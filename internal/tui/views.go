package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/run"
	"github.com/mkessler/caseboard/internal/stream"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusWaiting  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("208")).
			Padding(0, 1)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))
)

func (a *App) View() string {
	var s string
	switch a.view {
	case ViewTaskBoard:
		s = a.viewTaskBoard()
	case ViewRun:
		s = a.viewRun()
	case ViewWorkshop:
		s = a.viewWorkshop()
	case ViewHistory:
		s = a.viewHistory()
	}

	if a.inputMode == inputPalette {
		s += "\n" + a.viewPalette()
	}
	return s
}

func (a *App) viewTaskBoard() string {
	s := titleStyle.Render("Caseboard") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.taskIDs) == 0 {
		s += "No delegated tasks found.\n"
	} else {
		s += "Delegated Tasks\n"
		s += "───────────────\n"

		for i, id := range a.taskIDs {
			t := a.tasks[id]
			line := a.formatTaskLine(t)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] run  [w] workshop  [h] history  [ctrl+k] palette  [q] quit")
	return s
}

func (a *App) formatTaskLine(t *models.Task) string {
	kind := "data"
	if t.Kind == models.KindKnowledgeGrounded {
		kind = "knowledge"
	}
	ran := ""
	if _, err := a.results.Get(keyFor(t)); err == nil {
		ran = statusComplete.Render(" ✓")
	}
	return fmt.Sprintf("%-12s %-9s %-10s %s%s", t.ID, kind, t.Domain, truncate(t.Title, 40), ran)
}

func (a *App) viewRun() string {
	t := a.runTask
	if t == nil {
		return "No task selected"
	}

	s := titleStyle.Render(t.Title) + "  " + a.formatRunStatus() + "\n"
	s += labelStyle.Render("Prompt: ") + dimStyle.Render(truncate(t.Prompt, 70)) + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n\n"
	}
	if a.notice != "" {
		s += noticeStyle.Render(a.notice) + "\n\n"
	}

	if len(a.rows) > 0 {
		s += a.viewRows()
	}

	if a.session != nil && a.session.Status() != stream.StatusIdle {
		s += a.viewStream()
	}

	if a.pending != nil {
		s += a.viewInterrupt()
	}

	if a.entry != nil && a.entry.Primary != nil {
		s += a.viewResult()
	}

	if a.inputMode == inputAnswer || a.inputMode == inputFollowUp {
		s += a.input.View() + "\n"
	}

	s += "\n" + helpStyle.Render(a.runHelp())
	return s
}

func (a *App) formatRunStatus() string {
	if a.machine == nil {
		if a.entry != nil && a.entry.Primary != nil {
			return statusComplete.Render("✓ complete")
		}
		return dimStyle.Render("○ not started")
	}
	switch a.machine.State() {
	case run.StatePreflight:
		return dimStyle.Render("○ preflight")
	case run.StateRunning:
		return statusRunning.Render("● running")
	case run.StateAwaitingInput:
		return statusWaiting.Render("⚠ awaiting input")
	case run.StateComplete:
		return statusComplete.Render("✓ complete")
	case run.StateError:
		return statusFailed.Render("✗ " + a.machine.ErrReason())
	}
	return ""
}

// viewRows renders the fetched records, truncated at the interrupt anchor
// while the reveal gate holds.
func (a *App) viewRows() string {
	visible := a.rows
	gatedNote := ""
	if a.machine != nil {
		if anchor, gated := a.machine.RevealBoundary(); gated {
			for i, r := range a.rows {
				if r.ID == anchor {
					visible = a.rows[:i+1]
					break
				}
			}
			gatedNote = dimStyle.Render(fmt.Sprintf("  (%d rows pending decision)", len(a.rows)-len(visible)))
		}
	}

	s := fmt.Sprintf("Records (%d)%s\n", len(visible), gatedNote)
	for _, r := range visible {
		s += "  " + r.ID + "  " + dimStyle.Render(formatFields(r.Fields)) + "\n"
	}
	return s + "\n"
}

func formatFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, k+"="+fields[k])
	}
	return truncate(strings.Join(parts, " "), 60)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *App) viewStream() string {
	s := ""
	for _, tc := range a.session.ToolCalls() {
		s += "  " + a.formatToolCall(tc) + "\n"
	}
	if text := a.session.Tokens(); text != "" {
		s += strings.TrimRight(text, "\n") + "\n"
	}
	return s + "\n"
}

func (a *App) formatToolCall(tc stream.ToolCall) string {
	switch tc.Status {
	case stream.ToolRunning:
		return statusRunning.Render("● " + tc.Name)
	case stream.ToolCompleted:
		return statusComplete.Render("✓ " + tc.Name)
	case stream.ToolFailed:
		return statusFailed.Render("✗ " + tc.Name)
	default:
		return dimStyle.Render("○ " + tc.Name)
	}
}

func (a *App) viewInterrupt() string {
	in := a.pending
	body := statusWaiting.Render("Decision needed") + "\n"
	body += in.Context + "\n"
	for i, opt := range in.Options {
		line := fmt.Sprintf("[%d] %s", i+1, opt.Label)
		if opt.Description != "" {
			line += dimStyle.Render("  " + opt.Description)
		}
		body += line + "\n"
	}
	body += helpStyle.Render("press 1-9 to choose, t to type an answer")
	return panelStyle.Render(body) + "\n\n"
}

func (a *App) viewResult() string {
	entry := a.entry
	s := labelStyle.Render("Result") + "  " + dimStyle.Render(entry.Primary.CompletedAt.Format("15:04:05"))
	if a.runTask.Kind == models.KindDataGrounded {
		s += "  " + badgeStyle.Render("[data-grounded]")
	}
	s += "\n"
	for _, badge := range entry.Primary.ToolBadges {
		s += badgeStyle.Render("["+badge+"]") + " "
	}
	if len(entry.Primary.ToolBadges) > 0 {
		s += "\n"
	}
	s += entry.Primary.Output + "\n"

	for i, fu := range entry.FollowUps {
		s += labelStyle.Render(fmt.Sprintf("Follow-up %d", i+1)) + "\n"
		s += fu.Output + "\n"
	}
	return s + "\n"
}

func (a *App) runHelp() string {
	switch {
	case a.inputMode == inputAnswer || a.inputMode == inputFollowUp:
		return "[enter] submit  [esc] cancel"
	case a.machine != nil && a.machine.State() == run.StateError:
		return "[r] retry  [esc] back"
	case a.runInFlight():
		return "[esc] back"
	case a.entry != nil && a.entry.Primary != nil:
		return "[f] follow-up  [r] re-run  [esc] back"
	default:
		return "[s] start  [esc] back"
	}
}

func (a *App) viewWorkshop() string {
	t := a.wsTask
	if t == nil {
		return "No topic selected"
	}

	s := titleStyle.Render("Workshop: "+t.Title) + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}
	if a.notice != "" {
		s += noticeStyle.Render(a.notice) + "\n"
	}

	sess := a.sessions.Active(t.Engagement)
	if sess == nil {
		s += "\nNo active session.\n"
		s += "\n" + helpStyle.Render("[n] new session  [r] resume  [h] history  [esc] back")
		return s
	}

	s += "\n" + statusRunning.Render("● active") + dimStyle.Render("  since "+sess.StartedAt.Format("15:04")) + "\n\n"
	s += formatStats(sess.Stats)

	if a.inputMode == inputCapture {
		s += "\n" + labelStyle.Render(string(a.captureMode)) + " " + a.input.View() + "\n"
	}

	s += "\n" + helpStyle.Render("[a]dd [m]odify [n]ode [p]lace [g]ap [d]elete  [e] end  [h] history  [esc] back")
	return s
}

func formatStats(stats models.WorkshopStats) string {
	s := labelStyle.Render("Session stats") + "\n"
	s += fmt.Sprintf("  items: %d new, %d modified\n", stats.NewItems, stats.ModifiedItems)
	s += fmt.Sprintf("  nodes: %d new, %d placed, %d deleted\n", stats.NewNodes, stats.PlacedNodes, stats.DeletedNodes)
	s += fmt.Sprintf("  gaps flagged: %d\n", stats.GapsFlagged)
	return s
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("Session History") + "\n\n"

	if a.err != nil {
		s += statusFailed.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}

	if len(a.history) == 0 {
		s += "No past sessions.\n"
	} else {
		for _, sum := range a.history {
			dur := sum.EndedAt.Sub(sum.StartedAt).Round(time.Minute)
			s += fmt.Sprintf("%s  %-30s %s\n",
				sum.EndedAt.Format("2006-01-02 15:04"),
				truncate(sum.TopicName, 30),
				dimStyle.Render(dur.String()))
			s += "  " + dimStyle.Render(fmt.Sprintf("items +%d/~%d  nodes +%d placed %d  gaps %d",
				sum.Stats.NewItems, sum.Stats.ModifiedItems,
				sum.Stats.NewNodes, sum.Stats.PlacedNodes, sum.Stats.GapsFlagged)) + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[esc] back  [q] board")
	return s
}

func (a *App) viewPalette() string {
	body := labelStyle.Render("Command Palette") + "\n"
	body += a.input.View() + "\n"

	cmds := a.filteredPalette()
	if len(cmds) == 0 {
		body += dimStyle.Render("(no matching commands)")
	}
	for i, cmd := range cmds {
		if i == a.paletteIdx {
			body += selectedStyle.Render("▶ "+cmd.name) + "\n"
		} else {
			body += "  " + cmd.name + "\n"
		}
	}
	return panelStyle.Render(strings.TrimRight(body, "\n"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Palette commands act on the current selection; their availability does
// not depend on which view is showing.

type paletteCommand struct {
	name string
	exec func(a *App) tea.Cmd
}

func (a *App) paletteCommands() []paletteCommand {
	return []paletteCommand{
		{"open run surface", func(a *App) tea.Cmd {
			if t := a.paletteTask(); t != nil {
				a.openRunSurface(t)
			}
			return nil
		}},
		{"open workshop", func(a *App) tea.Cmd {
			if t := a.paletteTask(); t != nil {
				a.wsTask = t
				a.view = ViewWorkshop
				a.notice = ""
			}
			return nil
		}},
		{"end workshop session", func(a *App) tea.Cmd {
			a.endWorkshop()
			return nil
		}},
		{"show session history", func(a *App) tea.Cmd {
			if t := a.paletteTask(); t != nil {
				return a.loadHistory(t.Engagement)
			}
			return nil
		}},
		{"back to task board", func(a *App) tea.Cmd {
			if a.view == ViewRun {
				a.teardownRun()
			}
			a.view = ViewTaskBoard
			return nil
		}},
		{"quit", func(a *App) tea.Cmd {
			return tea.Quit
		}},
	}
}

// paletteTask resolves which task a palette command targets: the surface's
// task when one is open, otherwise the board selection.
func (a *App) paletteTask() *models.Task {
	switch a.view {
	case ViewRun:
		return a.runTask
	case ViewWorkshop:
		return a.wsTask
	}
	return a.selectedTask()
}

func (a *App) filteredPalette() []paletteCommand {
	filter := strings.ToLower(strings.TrimSpace(a.input.Value()))
	if filter == "" {
		return a.paletteCommands()
	}
	var out []paletteCommand
	for _, cmd := range a.paletteCommands() {
		if strings.Contains(strings.ToLower(cmd.name), filter) {
			out = append(out, cmd)
		}
	}
	return out
}

func (a *App) togglePalette() {
	if a.inputMode == inputPalette {
		a.blurInput()
		return
	}
	a.paletteIdx = 0
	a.focusInput(inputPalette, "cmd")
}

func (a *App) handlePaletteKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+k":
		a.blurInput()
		return a, nil

	case "up":
		if a.paletteIdx > 0 {
			a.paletteIdx--
		}
		return a, nil

	case "down":
		if a.paletteIdx < len(a.filteredPalette())-1 {
			a.paletteIdx++
		}
		return a, nil

	case "enter":
		cmds := a.filteredPalette()
		if a.paletteIdx < len(cmds) {
			cmd := cmds[a.paletteIdx]
			a.blurInput()
			return a, cmd.exec(a)
		}
		a.blurInput()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	a.paletteIdx = 0
	return a, cmd
}
