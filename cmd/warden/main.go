package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/dispatch"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/gate"
	"github.com/wardenhq/warden/internal/interpret"
	"github.com/wardenhq/warden/internal/killswitch"
	"github.com/wardenhq/warden/internal/ledger"
	"github.com/wardenhq/warden/internal/lock"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/pipeline"
	"github.com/wardenhq/warden/internal/schema"
	"github.com/wardenhq/warden/internal/storage"
	"github.com/wardenhq/warden/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "ledger":
		return runLedgerNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: warden system <start|watch>")
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "watch":
		return runWatch(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runLedgerNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: warden ledger <verify>")
		return 1
	}
	switch args[0] {
	case "verify":
		return runLedgerVerify(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown ledger action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: warden config <check>")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

// runStart boots the full pipeline: store, kill switch, gate, dispatcher
// lanes, approval sweeper, and the HTTP API. Blocks until SIGINT/SIGTERM.
func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("warden starting", "version", version, "config", *configPath)

	pidLock, err := lock.Acquire(lock.PathFor(cfg.Store.Path))
	if err != nil {
		logger.Error("failed to acquire PID lock", "error", err)
		return 1
	}
	defer pidLock.Release()

	registry, err := loadRegistry(cfg)
	if err != nil {
		logger.Error("failed to load command registry", "error", err)
		return 1
	}
	logger.Info("command registry loaded", "types", registry.Len())

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Store.Path)

	ks, err := killswitch.New(ctx, db)
	if err != nil {
		logger.Error("failed to restore kill switch state", "error", err)
		return 1
	}
	if ks.Engaged() {
		logger.Warn("kill switch is engaged from a previous run")
	}

	signer := ledger.NewSigner(cfg.Ledger.SigningSecret)
	writer := ledger.NewWriter(db, signer, cfg.Ledger.SignedBy)
	verifier := ledger.NewVerifier(db, signer)

	// Refuse to append to a chain that fails verification at startup.
	report, err := verifier.Verify(ctx)
	if err != nil {
		logger.Error("startup chain verification failed", "error", err)
		return 1
	}
	if !report.Intact {
		logger.Error("ledger chain is broken, refusing to start",
			"seq", report.Broken.Seq, "entry_id", report.Broken.EntryID, "field", report.Broken.Field)
		return 1
	}
	logger.Info("ledger chain verified", "entries", report.Entries)

	autoMax, err := schema.ParseSeverity(cfg.Gate.AutoExecuteMaxSeverity)
	if err != nil {
		logger.Error("invalid gate policy", "error", err)
		return 1
	}
	tokens := gate.NewTokenStore(db, cfg.Gate.TokenTTL)
	g := gate.New(ks, tokens, gate.Policy{AutoExecuteMaxSeverity: autoMax})

	hub := events.NewHub(256)
	approvals := approval.NewStore(db, cfg.Service.ApprovalTimeout)

	executors := make(map[string]dispatch.Executor, len(cfg.Dispatch.Executors))
	for commandType, ec := range cfg.Dispatch.Executors {
		executors[strings.ToUpper(commandType)] = dispatch.NewHTTPExecutor(ec.Endpoint, ec.Timeout)
	}
	queue := dispatch.NewQueue(db)
	disp := dispatch.New(queue, executors, ks, writer, hub, dispatch.Options{
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		BackoffBase:  cfg.Dispatch.BackoffBase,
		TickInterval: cfg.Dispatch.TickInterval,
	})

	var interpClient *interpret.Client
	if cfg.Interpreter.Endpoint != "" {
		interpClient = interpret.NewClient(cfg.Interpreter.Endpoint, cfg.Interpreter.Timeout)
		logger.Info("interpreter configured", "endpoint", cfg.Interpreter.Endpoint)
	}

	svc := pipeline.New(registry, g, tokens, writer, verifier, approvals, disp, ks, interpClient, hub,
		pipeline.Options{DedupeWindow: cfg.Service.DedupeWindow})

	sweeper := approval.NewSweeper(approvals, cfg.Service.SweepInterval, svc.ExpireApproval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := disp.Start(ctx, registry.Types()); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	go sweeper.Start(ctx)

	apiServer := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
	}, svc, queue, hub)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		time.Sleep(200 * time.Millisecond)
		return 0
	case err := <-errCh:
		logger.Error("fatal error", "error", err)
		cancel()
		return 1
	}
}

// runLedgerVerify walks the chain offline and prints a report.
func runLedgerVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	verifier := ledger.NewVerifier(db, ledger.NewSigner(cfg.Ledger.SigningSecret))
	report, err := verifier.Verify(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else if report.Intact {
		fmt.Printf("chain intact: %d entries, head proof %s\n", report.Entries, report.HeadProof)
	} else {
		fmt.Printf("CHAIN BROKEN at seq %d (entry %s, %s)\n  expected: %s\n  found:    %s\n",
			report.Broken.Seq, report.Broken.EntryID, report.Broken.Field,
			report.Broken.Expected, report.Broken.Found)
	}

	if !report.Intact {
		return 1
	}
	return 0
}

// runConfigCheck validates configuration and the command registry without
// starting anything.
func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
		return 1
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command registry invalid: %v\n", err)
		return 1
	}

	// Executor keys in YAML may be any case; runStart uppercases them too.
	configured := make(map[string]bool, len(cfg.Dispatch.Executors))
	for commandType := range cfg.Dispatch.Executors {
		configured[strings.ToUpper(commandType)] = true
	}
	for _, typ := range registry.Types() {
		if !configured[typ] {
			fmt.Fprintf(os.Stderr, "warning: no executor configured for %s\n", typ)
		}
	}

	fmt.Printf("config ok: %d command types, store %s, listen %s\n",
		registry.Len(), cfg.Store.Path, cfg.API.Listen)
	return 0
}

// runWatch launches the live terminal monitor against a running instance.
func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Warden API URL")
	apiKey := fs.String("api-key", os.Getenv("WARDEN_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or WARDEN_API_KEY env var.")
		return 1
	}

	m := tui.NewMonitor(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]string{
			"version": version,
			"commit":  commit,
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("warden %s\ncommit: %s\n", version, commit)
	return 0
}

// loadRegistry loads the command registry from the configured path, falling
// back to the built-in command set.
func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.Registry.Path == "" {
		return schema.Default(), nil
	}
	return schema.Load(cfg.Registry.Path)
}

func printUsage() {
	fmt.Print(`warden - Command validation, autonomy gating, and audit ledger for
production automation agents

Usage:
  warden <noun> <action> [flags]

System Commands:
  system start      Start the warden service in foreground
  system watch      Real-time ledger monitoring TUI

Ledger Commands:
  ledger verify     Walk the hash chain and report the first broken link

Config Commands:
  config check      Validate configuration and command registry

General:
  version           Show version information
  help              Show this help message

Root aliases: start, watch.
`)
}
