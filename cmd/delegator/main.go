package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/delegator/internal/agent"
	"github.com/aristath/delegator/internal/config"
	"github.com/aristath/delegator/internal/enforce"
	"github.com/aristath/delegator/internal/events"
	"github.com/aristath/delegator/internal/launcher"
	"github.com/aristath/delegator/internal/session"
	"github.com/aristath/delegator/internal/store"
	"github.com/aristath/delegator/internal/taskgraph"
	"github.com/aristath/delegator/internal/tui"
)

func main() {
	taskFile := flag.String("tasks", "", "path to a JSON file with task specs")
	withTUI := flag.Bool("tui", false, "show the live monitor TUI")
	strict := flag.Bool("strict", false, "halt on parallel-window violations (overrides config)")
	flag.Parse()

	if *taskFile == "" {
		fmt.Fprintln(os.Stderr, "usage: delegator -tasks tasks.json [-tui] [-strict]")
		os.Exit(2)
	}

	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *strict {
		cfg.Enforcement.Strict = true
	}

	specs, err := loadTaskSpecs(*taskFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading tasks: %v\n", err)
		os.Exit(1)
	}

	graph, err := taskgraph.New(specs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building task graph: %v\n", err)
		os.Exit(1)
	}

	registry, err := launcher.NewRegistry(registrySpecs(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building worker registry: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	defer bus.Close()

	manager := agent.NewManager(registry, bus)
	defer manager.StopAll()

	enforcer := enforce.New(graph, enforce.Config{
		ParallelWindow: time.Duration(cfg.Enforcement.ParallelWindowMS) * time.Millisecond,
		Strict:         cfg.Enforcement.Strict,
	})

	var history store.Store
	if cfg.HistoryPath != "" {
		s, err := store.NewSQLiteStore(ctx, cfg.HistoryPath)
		if err != nil {
			log.Printf("WARNING: run history disabled: %v", err)
		} else {
			history = s
			defer s.Close()
		}
	}

	sess := session.New(graph, enforcer, manager, session.Options{
		Bus:     bus,
		History: history,
		Retry:   retryConfig(cfg.Retry),
	})

	if *withTUI {
		runWithTUI(ctx, stop, sess, bus, cfg, manager)
		return
	}

	results, err := sess.Run(ctx)
	printResults(results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, res := range results {
		if !res.Success {
			os.Exit(1)
		}
	}
}

// runWithTUI runs the session in the background while the TUI renders
// bus events. The session's outcome decides the exit code.
func runWithTUI(ctx context.Context, stop context.CancelFunc, sess *session.Session, bus *events.Bus, cfg *config.Config, manager *agent.Manager) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
		os.Exit(1)
	}
	globalPath := filepath.Join(homeDir, ".delegator", "config.json")
	projectPath := filepath.Join(".delegator", "config.json")

	model := tui.New(bus, cfg, globalPath, projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen())

	tuiErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		tuiErr <- err
	}()

	type runOutcome struct {
		results []session.TaskResult
		err     error
	}
	runDone := make(chan runOutcome, 1)
	go func() {
		results, err := sess.Run(ctx)
		runDone <- runOutcome{results, err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-runDone:
		// Leave the TUI up so the final state can be inspected; it
		// exits when the user quits or a signal arrives.
		select {
		case err := <-tuiErr:
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		case <-ctx.Done():
			shutdownTUI(p, tuiErr)
		}

	case err := <-tuiErr:
		// User quit mid-run: stop the workers and collect what we have.
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		manager.StopAll()
		outcome = runOutcome{results: sess.Results()}

	case <-ctx.Done():
		stop() // restore default signal handling (double Ctrl+C = force exit)
		log.Println("Shutdown signal received, cleaning up...")
		manager.StopAll()
		p.Quit()
		shutdownTUI(p, tuiErr)
		outcome = runOutcome{results: sess.Results(), err: ctx.Err()}
	}

	printResults(outcome.results)
	if outcome.err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", outcome.err)
		os.Exit(1)
	}
	for _, res := range outcome.results {
		if !res.Success {
			os.Exit(1)
		}
	}
}

func shutdownTUI(p *tea.Program, tuiErr <-chan error) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.Quit()
	select {
	case err := <-tuiErr:
		if err != nil {
			log.Printf("TUI exit error: %v", err)
		}
	case <-shutdownCtx.Done():
		log.Println("Shutdown timeout exceeded, forcing exit")
	}
}

// loadTaskSpecs reads a JSON array of task specs.
func loadTaskSpecs(path string) ([]taskgraph.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var specs []taskgraph.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return specs, nil
}

// registrySpecs converts configured workers into launcher specs.
func registrySpecs(cfg *config.Config) map[string]launcher.CommandSpec {
	specs := make(map[string]launcher.CommandSpec, len(cfg.Workers))
	for name, worker := range cfg.Workers {
		specs[name] = launcher.CommandSpec{
			Command: worker.Command,
			Args:    worker.Args,
			Env:     worker.Env,
			Dir:     worker.Dir,
		}
	}
	return specs
}

func retryConfig(rc config.RetryConfig) session.RetryConfig {
	return session.RetryConfig{
		InitialInterval:     time.Duration(rc.InitialIntervalMS) * time.Millisecond,
		MaxInterval:         time.Duration(rc.MaxIntervalMS) * time.Millisecond,
		MaxElapsedTime:      time.Duration(rc.MaxElapsedMS) * time.Millisecond,
		Multiplier:          rc.Multiplier,
		RandomizationFactor: rc.RandomizationFactor,
	}
}

func printResults(results []session.TaskResult) {
	for _, res := range results {
		if res.Success {
			fmt.Printf("ok   %-20s %s\n", res.TaskID, res.AgentTaskID)
		} else {
			fmt.Printf("FAIL %-20s %v\n", res.TaskID, res.Error)
		}
	}
}
