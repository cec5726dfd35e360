package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkessler/caseboard/internal/agent"
	"github.com/mkessler/caseboard/internal/config"
	"github.com/mkessler/caseboard/internal/ledger"
	"github.com/mkessler/caseboard/internal/logging"
	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/remote"
	"github.com/mkessler/caseboard/internal/run"
	"github.com/mkessler/caseboard/internal/storage"
	"github.com/mkessler/caseboard/internal/stream"
	"github.com/mkessler/caseboard/internal/task"
	"github.com/mkessler/caseboard/internal/tui"
	"github.com/mkessler/caseboard/internal/workshop"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "caseboard",
		Short: "Consulting engagement dashboard",
		Long:  "Caseboard orchestrates delegated analysis agents and workshop sessions for a consulting engagement.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newLedgerCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newTasksCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config, opens the blob store and log file, and loads the task
// catalog. The caller owns the returned closers.
type env struct {
	cfg   *config.Config
	store *storage.Store
	tasks map[string]*models.Task
	log   zerolog.Logger

	logCloser interface{ Close() error }
}

func setup() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, logCloser, err := logging.New(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tasks, err := task.LoadAll([]string{cfg.ProjectTaskDir, cfg.UserTaskDir})
	if err != nil {
		store.Close()
		logCloser.Close()
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	return &env{cfg: cfg, store: store, tasks: tasks, log: log, logCloser: logCloser}, nil
}

func (e *env) close() {
	e.store.Close()
	e.logCloser.Close()
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	client := remote.New(e.cfg.RemoteBaseURL, e.log)
	results := ledger.New(e.store, e.log)
	sessions := workshop.NewManager(e.store, e.log)

	app := tui.NewApp(e.tasks, client, results, sessions, e.log)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a delegated task to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choose, _ := cmd.Flags().GetInt("choose")
			answer, _ := cmd.Flags().GetString("answer")
			return runHeadless(args[0], choose, answer)
		},
	}

	cmd.Flags().Int("choose", 0, "Resolve the task's decision point with option N (1-based)")
	cmd.Flags().String("answer", "", "Resolve the task's decision point with free text")
	return cmd
}

func runHeadless(taskID string, choose int, answer string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	t, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %q not found", taskID)
	}

	client := remote.New(e.cfg.RemoteBaseURL, e.log)
	results := ledger.New(e.store, e.log)

	machine := run.NewMachine(t.ID, t.Kind, e.log)
	session := stream.NewSession(e.log)

	var lastOutput string
	session.OnComplete(func() {
		badges := session.CompletedTools()
		if badges == nil {
			badges = []string{}
		}
		key := ledger.Key(t.Engagement, t.ID)
		if err := results.SavePrimary(key, models.ResultEntry{
			Output:      lastOutput,
			ToolBadges:  badges,
			CompletedAt: time.Now(),
		}); err != nil {
			e.log.Error().Err(err).Msg("failed to save result")
		}
	})

	if err := machine.Start(); err != nil {
		return err
	}
	if err := session.Start(t.Prompt, t.ID); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	rows := client.Fetch(ctx, t.Domain)
	cancel()
	fmt.Printf("Running %s (%d records)\n\n", t.ID, len(rows))

	sink := &cliSink{
		machine: machine,
		session: session,
		choose:  choose,
		answer:  answer,
		output:  &lastOutput,
	}

	driver := agent.NewDriver(*t, rows, sink, e.log)
	err = driver.Run(t.Prompt)
	if errors.Is(err, agent.ErrAwaitingInput) {
		fmt.Println("\nRun is awaiting input. Re-run with --choose N or --answer to resolve.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("run failed: %s", machine.ErrReason())
	}

	fmt.Printf("\n\nRun complete (%s)\n", machine.State())
	return nil
}

// cliSink replays driver events to stdout and drives the run machine
// directly; flags stand in for the interactive resolution.
type cliSink struct {
	machine *run.Machine
	session *stream.Session
	choose  int
	answer  string
	output  *string
}

func (s *cliSink) EmitTokens(text string) {
	fmt.Print(text)
	s.session.AppendTokens(text)
}

func (s *cliSink) ToolBegin(name string) int {
	fmt.Printf("→ %s\n", name)
	return s.session.BeginTool(name)
}

func (s *cliSink) ToolUpdate(index int, status stream.ToolStatus) {
	s.session.SetToolStatus(index, status)
}

func (s *cliSink) AwaitDecision(in *run.Interrupt) (string, error) {
	if err := s.machine.AwaitInput(in); err != nil {
		return "", err
	}

	fmt.Printf("\nDecision needed at %s: %s\n", in.AnchorRowID, in.Context)
	for i, opt := range in.Options {
		line := fmt.Sprintf("  [%d] %s", i+1, opt.Label)
		if opt.Description != "" {
			line += "  " + opt.Description
		}
		fmt.Println(line)
	}

	var choice any
	switch {
	case s.answer != "":
		choice = s.answer
	case s.choose > 0:
		choice = s.choose - 1
	default:
		return "", errors.New("no resolution provided")
	}

	if err := s.machine.Resolve(choice); err != nil {
		return "", err
	}
	resolution := in.Resolution()
	fmt.Printf("Resolved: %s\n\n", resolution)
	return resolution, nil
}

func (s *cliSink) Completed(output string) {
	*s.output = output
	if s.machine.State() == run.StateRunning {
		s.machine.Complete()
	}
	s.session.Complete()
}

func (s *cliSink) Failed(reason string) {
	if s.machine.State() == run.StateRunning {
		s.machine.Fail(reason)
	}
	s.session.Fail(reason)
}

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger <engagement> <task-id>",
		Short: "Show a task's recorded analysis",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clearEntry, _ := cmd.Flags().GetBool("clear")

			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			results := ledger.New(e.store, e.log)
			key := ledger.Key(args[0], args[1])

			if clearEntry {
				if err := results.Clear(key); err != nil {
					return err
				}
				fmt.Printf("Cleared ledger entry for %s\n", key)
				return nil
			}

			entry, err := results.Get(key)
			if errors.Is(err, ledger.ErrNotFound) {
				fmt.Printf("Task %s has not run for engagement %s.\n", args[1], args[0])
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Completed: %s\n", entry.Primary.CompletedAt.Format(time.RFC3339))
			for _, badge := range entry.Primary.ToolBadges {
				fmt.Printf("[%s] ", badge)
			}
			if len(entry.Primary.ToolBadges) > 0 {
				fmt.Println()
			}
			fmt.Println(entry.Primary.Output)

			for i, fu := range entry.FollowUps {
				fmt.Printf("\nFollow-up %d (%s):\n%s\n", i+1, fu.CompletedAt.Format(time.RFC3339), fu.Output)
			}
			return nil
		},
	}

	cmd.Flags().Bool("clear", false, "Remove the entry, primary and follow-ups")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <engagement>",
		Short: "Show past workshop sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			sessions := workshop.NewManager(e.store, e.log)
			summaries, err := sessions.History(args[0])
			if err != nil {
				return err
			}

			if len(summaries) == 0 {
				fmt.Println("No past sessions.")
				return nil
			}

			for _, s := range summaries {
				fmt.Printf("%s  %s\n", s.EndedAt.Format("2006-01-02 15:04"), s.TopicName)
				fmt.Printf("  items +%d/~%d  nodes +%d placed %d deleted %d  gaps %d\n",
					s.Stats.NewItems, s.Stats.ModifiedItems,
					s.Stats.NewNodes, s.Stats.PlacedNodes, s.Stats.DeletedNodes,
					s.Stats.GapsFlagged)
			}
			return nil
		},
	}
}

func newTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the delegated task catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			if len(e.tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			ids := make([]string, 0, len(e.tasks))
			for id := range e.tasks {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				t := e.tasks[id]
				fmt.Printf("%-14s %-18s %-10s %s\n", t.ID, t.Kind, t.Domain, t.Title)
			}
			return nil
		},
	}
}
