package agent

import (
	"errors"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/rs/zerolog"

	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/run"
	"github.com/mkessler/caseboard/internal/stream"
)

// ErrAwaitingInput is returned by Run when the playbook reached its
// decision point and no resolution will arrive in this invocation. The run
// stays in awaiting_input; it is not a failure.
var ErrAwaitingInput = errors.New("agent: awaiting input")

// EventSink receives the playbook's stream events as they occur.
type EventSink interface {
	EmitTokens(text string)
	ToolBegin(name string) int
	ToolUpdate(index int, status stream.ToolStatus)
	// AwaitDecision delivers the interrupt and blocks until the consultant
	// resolves it, returning the resolution. Implementations that cannot
	// obtain a resolution return an error instead.
	AwaitDecision(in *run.Interrupt) (string, error)
	Completed(output string)
	Failed(reason string)
}

// Driver executes one task playbook in a sandboxed Lua state, replaying
// its activity into an EventSink. The playbook is the opaque "agent": the
// orchestration layer only sees its events.
type Driver struct {
	task models.Task
	rows []models.Record
	sink EventSink
	log  zerolog.Logger

	interrupted bool
	awaiting    bool
	failReason  string
	isFailed    bool
	output      string
	done        bool
}

func NewDriver(task models.Task, rows []models.Record, sink EventSink, log zerolog.Logger) *Driver {
	return &Driver{
		task: task,
		rows: rows,
		sink: sink,
		log:  log.With().Str("task", task.ID).Logger(),
	}
}

// Run executes the playbook's `playbook(prompt)` function. It reports the
// outcome through the sink: Completed on success, Failed on any abort. A
// decision point without a resolution returns ErrAwaitingInput and reports
// nothing, leaving the run gated.
func (d *Driver) Run(prompt string) error {
	script, err := os.ReadFile(d.task.Playbook)
	if err != nil {
		reason := fmt.Sprintf("failed to read playbook: %v", err)
		d.sink.Failed(reason)
		return errors.New(reason)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSafeLibs(L)
	d.registerAPI(L)

	if err := L.DoString(string(script)); err != nil {
		reason := fmt.Sprintf("failed to load playbook: %v", err)
		d.sink.Failed(reason)
		return errors.New(reason)
	}

	playbook := L.GetGlobal("playbook")
	if playbook == lua.LNil {
		reason := "playbook script must define a 'playbook' function"
		d.sink.Failed(reason)
		return errors.New(reason)
	}

	L.Push(playbook)
	L.Push(lua.LString(prompt))
	if err := L.PCall(1, 0, nil); err != nil {
		if d.awaiting {
			return ErrAwaitingInput
		}
		reason := d.failReason
		if reason == "" {
			reason = fmt.Sprintf("playbook execution failed: %v", err)
		}
		d.sink.Failed(reason)
		return errors.New(reason)
	}

	if !d.done {
		reason := "playbook ended without a result"
		d.sink.Failed(reason)
		return errors.New(reason)
	}

	d.sink.Completed(d.output)
	return nil
}

// FollowUp asks the playbook's `followup(question, prompt)` function for a
// chained answer without re-running the full task.
func (d *Driver) FollowUp(question, prompt string) (string, error) {
	script, err := os.ReadFile(d.task.Playbook)
	if err != nil {
		return "", fmt.Errorf("failed to read playbook: %w", err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSafeLibs(L)
	d.registerReadAPI(L)

	if err := L.DoString(string(script)); err != nil {
		return "", fmt.Errorf("failed to load playbook: %w", err)
	}

	followup := L.GetGlobal("followup")
	if followup == lua.LNil {
		return "", fmt.Errorf("playbook for %s does not answer follow-ups", d.task.ID)
	}

	L.Push(followup)
	L.Push(lua.LString(question))
	L.Push(lua.LString(prompt))
	if err := L.PCall(2, 1, nil); err != nil {
		return "", fmt.Errorf("follow-up failed: %w", err)
	}

	answer := L.Get(-1)
	L.Pop(1)
	if s, ok := answer.(lua.LString); ok {
		return string(s), nil
	}
	return "", fmt.Errorf("follow-up returned no text")
}

// openSafeLibs loads only the safe standard libraries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove non-deterministic math functions
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (d *Driver) registerAPI(L *lua.LState) {
	d.registerReadAPI(L)
	L.SetGlobal("emit", L.NewFunction(d.luaEmit))
	L.SetGlobal("tool", L.NewFunction(d.luaTool))
	L.SetGlobal("tool_update", L.NewFunction(d.luaToolUpdate))
	L.SetGlobal("interrupt", L.NewFunction(d.luaInterrupt))
	L.SetGlobal("result", L.NewFunction(d.luaResult))
	L.SetGlobal("fail", L.NewFunction(d.luaFail))
}

func (d *Driver) registerReadAPI(L *lua.LState) {
	L.SetGlobal("rows", L.NewFunction(d.luaRows))
	L.SetGlobal("row_id", L.NewFunction(d.luaRowID))
	L.SetGlobal("row_field", L.NewFunction(d.luaRowField))
	L.SetGlobal("log", L.NewFunction(d.luaLog))
}

func (d *Driver) luaEmit(L *lua.LState) int {
	text := L.CheckString(1)
	d.sink.EmitTokens(text)
	return 0
}

func (d *Driver) luaTool(L *lua.LState) int {
	name := L.CheckString(1)
	index := d.sink.ToolBegin(name)
	L.Push(lua.LNumber(index))
	return 1
}

func (d *Driver) luaToolUpdate(L *lua.LState) int {
	index := L.CheckInt(1)
	status := stream.ToolStatus(L.CheckString(2))

	switch status {
	case stream.ToolRunning, stream.ToolCompleted, stream.ToolFailed:
	default:
		L.RaiseError("unknown tool status %q", status)
		return 0
	}

	d.sink.ToolUpdate(index, status)
	return 0
}

func (d *Driver) luaRows(L *lua.LState) int {
	L.Push(lua.LNumber(len(d.rows)))
	return 1
}

func (d *Driver) luaRowID(L *lua.LState) int {
	i := L.CheckInt(1)
	if i < 1 || i > len(d.rows) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(d.rows[i-1].ID))
	return 1
}

func (d *Driver) luaRowField(L *lua.LState) int {
	i := L.CheckInt(1)
	field := L.CheckString(2)
	if i < 1 || i > len(d.rows) {
		L.Push(lua.LNil)
		return 1
	}
	value, ok := d.rows[i-1].Fields[field]
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

// luaInterrupt implements interrupt(anchor_row_id, context, options).
// Options is a sequence of {label=..., description=...} tables. Returns
// the consultant's resolution.
func (d *Driver) luaInterrupt(L *lua.LState) int {
	anchor := L.CheckString(1)
	context := L.CheckString(2)
	optTable := L.CheckTable(3)

	if d.task.Kind == models.KindDataGrounded {
		L.RaiseError("data-grounded playbook cannot interrupt")
		return 0
	}
	if d.interrupted {
		L.RaiseError("playbook may interrupt at most once")
		return 0
	}

	var options []run.Option
	optTable.ForEach(func(_, v lua.LValue) {
		entry, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		options = append(options, run.Option{
			Label:       lua.LVAsString(entry.RawGetString("label")),
			Description: lua.LVAsString(entry.RawGetString("description")),
		})
	})

	in, err := run.NewInterrupt(anchor, context, options)
	if err != nil {
		L.RaiseError("invalid interrupt: %v", err)
		return 0
	}
	d.interrupted = true

	resolution, err := d.sink.AwaitDecision(in)
	if err != nil {
		d.awaiting = true
		L.RaiseError("awaiting input")
		return 0
	}

	L.Push(lua.LString(resolution))
	return 1
}

func (d *Driver) luaResult(L *lua.LState) int {
	d.output = L.CheckString(1)
	d.done = true
	return 0
}

func (d *Driver) luaFail(L *lua.LState) int {
	reason := L.OptString(1, "playbook failed")
	d.failReason = reason
	d.isFailed = true
	L.RaiseError("fail: %s", reason)
	return 0
}

func (d *Driver) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	d.log.Info().Msg(message)
	return 0
}
