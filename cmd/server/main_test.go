package main

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/workflow"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.FrontendDir = dir
	cfg.Diagnostics.ScreenshotDir = filepath.Join(dir, "screenshots")
	cfg.Diagnostics.TraceDir = filepath.Join(dir, "traces")
	cfg.Server.LogFile = ""
	return cfg
}

func TestBuildWiresComponents(t *testing.T) {
	tests := []struct {
		name    string
		mcp     bool
		wantMCP bool
	}{
		{"http only", false, false},
		{"with mcp", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.MCP.Enable = tt.mcp

			a, err := build(cfg)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			defer a.shutdown()

			if a.hub == nil || a.ledger == nil || a.metrics == nil || a.sessions == nil ||
				a.dispatcher == nil || a.engine == nil || a.web == nil {
				t.Fatalf("component missing: %+v", a)
			}
			if (a.mcp != nil) != tt.wantMCP {
				t.Fatalf("mcp = %v, want %v", a.mcp != nil, tt.wantMCP)
			}
			if a.mcp != nil {
				names := a.mcp.ToolNames()
				sort.Strings(names)
				if len(names) != 7 {
					t.Errorf("unexpected tools %v", names)
				}
			}
		})
	}
}

func TestInvalidCommandNeverOpensSession(t *testing.T) {
	a, err := build(testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.shutdown()

	_, err = a.dispatcher.SendMessage(workflow.Message{Recipient: "boss@example.test"})
	if !errors.Is(err, workflow.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if stats := a.sessions.Stats(); stats.Opened != 0 {
		t.Errorf("session opened for invalid command: %+v", stats)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := build(testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
