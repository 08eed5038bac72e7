package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkspaceConfig(t *testing.T, root, content string) {
	t.Helper()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write workspace config: %v", err)
	}
}

func TestDiscoverWorkspace_Found(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "")

	found, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, found)
	}
}

func TestDiscoverWorkspace_WalkUp(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "")

	nested := filepath.Join(tmpDir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	found, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, found)
	}
}

func TestDiscoverWorkspace_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	found, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != "" {
		t.Errorf("expected no workspace, got %q", found)
	}
}

func TestDiscoverWorkspace_MaxDepth(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "")

	deep := tmpDir
	for i := 0; i < MaxSearchDepth+2; i++ {
		deep = filepath.Join(deep, "d")
	}
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}

	found, err := DiscoverWorkspace(deep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != "" {
		t.Errorf("expected search to stop before reaching %q, got %q", tmpDir, found)
	}
}

func TestLoadWithWorkspace_DefaultsOnly(t *testing.T) {
	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != "" {
		t.Errorf("expected empty workspace dir, got %q", wsDir)
	}
	if cfg.Server.Name != "mailpilot" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
}

func TestLoadWithWorkspace_WorkspaceOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, `
workflow:
  send_confirm_timeout: "20s"
diagnostics:
  screenshot_dir: "shots"
`)

	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != tmpDir {
		t.Errorf("expected workspace %q, got %q", tmpDir, wsDir)
	}
	if cfg.Workflow.SendConfirmTimeout != "20s" {
		t.Errorf("expected workspace override, got %q", cfg.Workflow.SendConfirmTimeout)
	}
	if want := filepath.Join(tmpDir, "shots"); cfg.Diagnostics.ScreenshotDir != want {
		t.Errorf("expected screenshot dir resolved to %q, got %q", want, cfg.Diagnostics.ScreenshotDir)
	}
}

func TestLoadWithWorkspace_ExplicitOverridesWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, `
http:
  addr: ":6000"
generator:
  model: "workspace-model"
`)
	explicitPath := filepath.Join(tmpDir, "explicit.yaml")
	if err := os.WriteFile(explicitPath, []byte("http:\n  addr: \":7000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithWorkspace(explicitPath, WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":7000" {
		t.Errorf("explicit config should win, got %q", cfg.HTTP.Addr)
	}
	if cfg.Generator.Model != "workspace-model" {
		t.Errorf("workspace value should survive, got %q", cfg.Generator.Model)
	}
}

func TestLoadWithWorkspace_EnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "")
	envPath := filepath.Join(tmpDir, WorkspaceDirName, ".env")
	if err := os.WriteFile(envPath, []byte("GITHUB_TOKEN=ws-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvGitHubToken, "")
	os.Unsetenv(EnvGitHubToken)

	cfg, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.Token != "ws-token" {
		t.Errorf("expected token from workspace .env, got %q", cfg.Generator.Token)
	}
}

func TestLoadWithWorkspace_Disabled(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "http:\n  addr: \":6000\"\n")

	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true, ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != "" {
		t.Errorf("expected workspace to be skipped, got %q", wsDir)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Errorf("expected default addr, got %q", cfg.HTTP.Addr)
	}
}

func TestLoadWithWorkspace_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspaceConfig(t, tmpDir, "http: [")

	if _, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir}); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolveWorkspacePaths(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs-traces")
	cfg := DefaultConfig()
	cfg.Diagnostics.TraceDir = abs

	got := resolveWorkspacePaths(cfg, "/ws")
	if got.Server.LogFile != filepath.Join("/ws", "mailpilot.log") {
		t.Errorf("log file not resolved: %q", got.Server.LogFile)
	}
	if got.HTTP.FrontendDir != filepath.Join("/ws", "frontend") {
		t.Errorf("frontend dir not resolved: %q", got.HTTP.FrontendDir)
	}
	if got.Diagnostics.TraceDir != abs {
		t.Errorf("absolute path should be untouched, got %q", got.Diagnostics.TraceDir)
	}
}

func TestInitWorkspace_Creates(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wsDir := filepath.Join(tmpDir, WorkspaceDirName)
	for _, d := range []string{wsDir, filepath.Join(wsDir, "data")} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %q: %v", d, err)
		}
	}

	for _, f := range []string{WorkspaceConfigFile, ".gitignore"} {
		data, err := os.ReadFile(filepath.Join(wsDir, f))
		if err != nil {
			t.Fatalf("failed to read %s: %v", f, err)
		}
		if len(data) == 0 {
			t.Errorf("expected non-empty %s", f)
		}
	}

	// The generated workspace must load cleanly.
	if _, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir}); err != nil {
		t.Errorf("fresh workspace failed to load: %v", err)
	}
}

func TestInitWorkspace_AlreadyExists(t *testing.T) {
	tmpDir := t.TempDir()

	if err := InitWorkspace(tmpDir); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := InitWorkspace(tmpDir); err == nil {
		t.Error("expected error when workspace already exists")
	}
}
