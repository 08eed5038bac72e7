package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailpilot/internal/browser"
	"mailpilot/internal/config"
	"mailpilot/internal/diagnostics"
	"mailpilot/internal/dispatch"
	"mailpilot/internal/events"
	"mailpilot/internal/generator"
	"mailpilot/internal/ledger"
	mcpserver "mailpilot/internal/mcp"
	"mailpilot/internal/metrics"
	"mailpilot/internal/web"
	"mailpilot/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit config file (layered over the workspace config)")
	workspaceDir := flag.String("workspace", "", "Workspace root containing .mailpilot/ (default: discovered from cwd)")
	noWorkspace := flag.Bool("no-workspace", false, "Ignore any .mailpilot/ workspace")
	initWorkspace := flag.Bool("init", false, "Create .mailpilot/ in the current directory and exit")
	addr := flag.String("addr", "", "HTTP listen address override (falls back to config)")
	ssePort := flag.Int("sse-port", 0, "Optional MCP SSE port override (falls back to config)")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("getting working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		fmt.Printf("initialized %s in %s\n", config.WorkspaceDirName, cwd)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// stdio MCP owns stdout and stderr would interleave with it
	if cfg.MCP.Enable && cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}
	if wsDir != "" {
		log.Printf("using workspace %s", wsDir)
	}
	if !cfg.Account.HasCredentials() {
		log.Printf("warning: %s/%s not set; send commands will be rejected", config.EnvMailUser, config.EnvMailPass)
	}

	a, err := build(cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.shutdown()

	if err := a.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server exited with error: %v", err)
	}
}

// app holds every long-lived component.
type app struct {
	cfg        config.Config
	hub        *events.Hub
	ledger     *ledger.Ledger
	metrics    *metrics.Metrics
	sessions   *browser.Manager
	dispatcher *dispatch.Dispatcher
	engine     *workflow.Engine
	web        *web.Server
	mcp        *mcpserver.Server
}

// build wires the components. Nothing is started and no browser is launched.
func build(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	var err error
	a.ledger, err = ledger.New(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	a.metrics = metrics.New()
	a.hub = events.NewHub(nil)

	a.sessions = browser.NewManager(cfg.Browser)
	a.sessions.SetObserver(a.metrics)

	var tracer *diagnostics.Tracer
	if cfg.Diagnostics.TraceDir != "" {
		tracer, err = diagnostics.NewTracer(cfg.Diagnostics.TraceDir, cfg.Diagnostics.KeepTraces)
		if err != nil {
			return nil, fmt.Errorf("trace dir: %w", err)
		}
	}

	a.dispatcher = dispatch.New(dispatch.Options{
		Sink:      events.Fanout{a.hub, a.ledger, a.metrics},
		Generator: generator.New(cfg.Generator),
		Tracer:    tracer,
		Counter:   a.metrics,
	})
	a.engine = workflow.New(a.sessions, a.dispatcher, workflow.Options{
		Account:       cfg.Account,
		Timings:       cfg.Workflow.Timings(),
		ScreenshotDir: cfg.Diagnostics.ScreenshotDir,
		Observers:     []workflow.Observer{a.ledger, a.metrics},
	})
	a.dispatcher.SetRunner(a.engine)

	a.web = web.New(cfg.HTTP, a.dispatcher, a.hub, web.Options{
		History: a.ledger,
		Metrics: a.metrics.Handler(),
	})

	if cfg.MCP.Enable {
		a.mcp, err = mcpserver.NewServer(cfg, a.dispatcher, a.ledger, a.sessions)
		if err != nil {
			return nil, fmt.Errorf("mcp: %w", err)
		}
	}
	return a, nil
}

// run serves HTTP and, when enabled, MCP until ctx is canceled or either fails.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		log.Printf("starting mailpilot on %s", a.cfg.HTTP.Addr)
		errCh <- a.web.Serve(ctx)
	}()

	if a.mcp != nil {
		go func() {
			if a.cfg.MCP.SSEPort > 0 {
				log.Printf("starting mailpilot MCP SSE server on port %d", a.cfg.MCP.SSEPort)
				errCh <- a.mcp.StartSSE(ctx, a.cfg.MCP.SSEPort)
				return
			}
			log.Printf("starting mailpilot MCP stdio server")
			errCh <- a.mcp.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// shutdown cancels in-flight runs and closes whatever sessions remain.
func (a *app) shutdown() {
	a.dispatcher.Close()
	a.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sessions.Shutdown(ctx); err != nil {
		log.Printf("session shutdown: %v", err)
	}
	stats := a.sessions.Stats()
	log.Printf("shutdown complete: sessions opened=%d closed=%d", stats.Opened, stats.Closed)
}
