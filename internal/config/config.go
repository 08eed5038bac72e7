package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level config.
	WorkspaceDirName = ".mailpilot"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// Environment variables read after the optional .env file is loaded.
const (
	EnvMailUser    = "MAIL_USER"
	EnvMailPass    = "MAIL_PASS"
	EnvGitHubToken = "GITHUB_TOKEN"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
	// EnvFiles are loaded into the environment before credentials are read. Missing files are ignored.
	EnvFiles []string
}

// Config captures all tunable settings.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Browser     BrowserConfig     `yaml:"browser"`
	Account     AccountConfig     `yaml:"account"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Generator   GeneratorConfig   `yaml:"generator"`
	MCP         MCPConfig         `yaml:"mcp"`
	HTTP        HTTPConfig        `yaml:"http"`
	Ledger      LedgerConfig      `yaml:"ledger"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how each run's Chrome is launched or attached.
type BrowserConfig struct {
	// Optional Chrome binary; empty lets Rod locate or download one.
	Bin string `yaml:"bin"`
	// Control endpoint of an already running Chrome (e.g., ws://localhost:9222).
	// When set, each run opens an incognito context there instead of launching.
	DebuggerURL string `yaml:"debugger_url"`
	// Extra launch flags, e.g. ["--no-sandbox", "--lang=en-US"].
	Flags []string `yaml:"flags"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// Default navigation timeout (e.g., "30s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	ViewportWidth            int    `yaml:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height"`
	// UserAgent overrides the browser user agent when set.
	UserAgent string `yaml:"user_agent"`
}

// AccountConfig names the target application and the credentials used to sign in.
type AccountConfig struct {
	LoginURL string `yaml:"login_url"`
	InboxURL string `yaml:"inbox_url"`
	// InboxPattern is a URL substring proving the authenticated UI is showing.
	InboxPattern string `yaml:"inbox_pattern"`

	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// HasCredentials reports whether both identifier and secret are present.
func (a AccountConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// WorkflowConfig bounds every wait and pacing delay of a run. Values are Go durations.
type WorkflowConfig struct {
	IdentifierTimeout   string `yaml:"identifier_timeout"`
	FieldTimeout        string `yaml:"field_timeout"`
	SuggestionTimeout   string `yaml:"suggestion_timeout"`
	SendButtonTimeout   string `yaml:"send_button_timeout"`
	LoginConfirmTimeout string `yaml:"login_confirm_timeout"`
	InboxTimeout        string `yaml:"inbox_timeout"`
	SendConfirmTimeout  string `yaml:"send_confirm_timeout"`
	RecipientCheck      string `yaml:"recipient_check"`
	PollInterval        string `yaml:"poll_interval"`
	KeyDelayMin         string `yaml:"key_delay_min"`
	KeyDelayMax         string `yaml:"key_delay_max"`
	ActionSettle        string `yaml:"action_settle"`
	StepPauseMin        string `yaml:"step_pause_min"`
	StepPauseMax        string `yaml:"step_pause_max"`
	ScreenshotSettleMin string `yaml:"screenshot_settle_min"`
	ScreenshotSettleMax string `yaml:"screenshot_settle_max"`
}

// DiagnosticsConfig controls screenshot artifacts and run traces.
type DiagnosticsConfig struct {
	// ScreenshotDir holds one sub-directory per run.
	ScreenshotDir string `yaml:"screenshot_dir"`
	TraceDir      string `yaml:"trace_dir"`
	KeepTraces    int    `yaml:"keep_traces"`
}

// GeneratorConfig points at an OpenAI-compatible chat completions endpoint.
type GeneratorConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	Timeout     string  `yaml:"timeout"`

	Token string `yaml:"-"`
}

type MCPConfig struct {
	// Enable serves the MCP tool surface alongside HTTP.
	Enable bool `yaml:"enable"`
	// When set, starts an SSE server on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// HTTPConfig configures the websocket event channel and static frontend.
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	FrontendDir string `yaml:"frontend_dir"`
}

// LedgerConfig controls the embedded run ledger.
type LedgerConfig struct {
	Enable          bool `yaml:"enable"`
	FactBufferLimit int  `yaml:"fact_buffer_limit"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "mailpilot",
			Version: "0.1.0",
			LogFile: "mailpilot.log",
		},
		Browser: BrowserConfig{
			DefaultNavigationTimeout: "30s",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		Account: AccountConfig{
			LoginURL:     "https://accounts.google.com/signin",
			InboxURL:     "https://mail.google.com",
			InboxPattern: "mail.google.com",
		},
		Workflow: WorkflowConfig{
			IdentifierTimeout:   "30s",
			FieldTimeout:        "10s",
			SuggestionTimeout:   "3s",
			SendButtonTimeout:   "5s",
			LoginConfirmTimeout: "30s",
			InboxTimeout:        "30s",
			SendConfirmTimeout:  "15s",
			RecipientCheck:      "2s",
			PollInterval:        "250ms",
			KeyDelayMin:         "50ms",
			KeyDelayMax:         "150ms",
			ActionSettle:        "500ms",
			StepPauseMin:        "2s",
			StepPauseMax:        "4s",
			ScreenshotSettleMin: "1s",
			ScreenshotSettleMax: "2s",
		},
		Diagnostics: DiagnosticsConfig{
			ScreenshotDir: "screenshots",
			TraceDir:      "data/traces",
			KeepTraces:    20,
		},
		Generator: GeneratorConfig{
			Endpoint:    "https://models.github.ai/inference",
			Model:       "openai/gpt-4.1",
			Temperature: 0.7,
			TopP:        1.0,
			Timeout:     "60s",
		},
		MCP: MCPConfig{
			Enable:  false,
			SSEPort: 0,
		},
		HTTP: HTTPConfig{
			Addr:        ":5000",
			FrontendDir: "frontend",
		},
		Ledger: LedgerConfig{
			Enable:          true,
			FactBufferLimit: 4096,
		},
	}
}

// Load reads YAML config from disk, overlays defaults and the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	ApplyEnv(&cfg)
	return cfg, cfg.Validate()
}

// ApplyEnv loads the given .env files (default ".env"), ignoring missing ones,
// then copies credentials from the environment.
func ApplyEnv(cfg *Config, envFiles ...string) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv never overrides variables already set in the process.
		_ = godotenv.Load(f)
	}

	if v, ok := os.LookupEnv(EnvMailUser); ok {
		cfg.Account.Username = v
	}
	if v, ok := os.LookupEnv(EnvMailPass); ok {
		cfg.Account.Password = v
	}
	if v, ok := os.LookupEnv(EnvGitHubToken); ok {
		cfg.Generator.Token = v
	}
}

// DiscoverWorkspace walks up from startDir looking for a .mailpilot/config.yaml file.
// Returns the workspace root directory (parent of .mailpilot/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .mailpilot/config.yaml <- explicit --config <- environment
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	envFiles := opts.EnvFiles
	if len(envFiles) == 0 && wsDir != "" {
		envFiles = []string{filepath.Join(wsDir, WorkspaceDirName, ".env"), ".env"}
	}
	ApplyEnv(&cfg, envFiles...)

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .mailpilot/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# mailpilot project-level configuration
# Values here override defaults but are overridden by --config and the environment.
# Credentials are never read from this file: set MAIL_USER, MAIL_PASS and
# GITHUB_TOKEN in the environment or in .mailpilot/.env.

# browser:
#   headless: false
#   flags: ["--no-sandbox"]

# diagnostics:
#   screenshot_dir: "data/screenshots"
#   trace_dir: "data/traces"

# workflow:
#   field_timeout: "10s"
#   send_confirm_timeout: "15s"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data and secrets - do not version control\ndata/\n.env\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Diagnostics.ScreenshotDir = resolve(cfg.Diagnostics.ScreenshotDir)
	cfg.Diagnostics.TraceDir = resolve(cfg.Diagnostics.TraceDir)
	cfg.HTTP.FrontendDir = resolve(cfg.HTTP.FrontendDir)
	return cfg
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Account.LoginURL == "" {
		return errors.New("account.login_url is required")
	}
	if c.Account.InboxURL == "" {
		return errors.New("account.inbox_url is required")
	}
	if c.Diagnostics.ScreenshotDir == "" {
		return errors.New("diagnostics.screenshot_dir is required")
	}
	if err := checkRange("key_delay", c.Workflow.KeyDelayMin, c.Workflow.KeyDelayMax); err != nil {
		return err
	}
	if err := checkRange("step_pause", c.Workflow.StepPauseMin, c.Workflow.StepPauseMax); err != nil {
		return err
	}
	return checkRange("screenshot_settle", c.Workflow.ScreenshotSettleMin, c.Workflow.ScreenshotSettleMax)
}

func checkRange(name, lo, hi string) error {
	l := parseDuration(lo, 0)
	h := parseDuration(hi, 0)
	if h < l {
		return fmt.Errorf("workflow.%s_max must not be below workflow.%s_min", name, name)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 30*time.Second)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

// Timings is the parsed form of WorkflowConfig.
type Timings struct {
	IdentifierTimeout   time.Duration
	FieldTimeout        time.Duration
	SuggestionTimeout   time.Duration
	SendButtonTimeout   time.Duration
	LoginConfirmTimeout time.Duration
	InboxTimeout        time.Duration
	SendConfirmTimeout  time.Duration
	RecipientCheck      time.Duration
	PollInterval        time.Duration
	KeyDelayMin         time.Duration
	KeyDelayMax         time.Duration
	ActionSettle        time.Duration
	StepPauseMin        time.Duration
	StepPauseMax        time.Duration
	ScreenshotSettleMin time.Duration
	ScreenshotSettleMax time.Duration
}

// Timings parses every duration, falling back to defaults for empty or bad values.
func (w WorkflowConfig) Timings() Timings {
	d := DefaultConfig().Workflow
	p := func(v, def string) time.Duration {
		return parseDuration(v, parseDuration(def, 0))
	}
	return Timings{
		IdentifierTimeout:   p(w.IdentifierTimeout, d.IdentifierTimeout),
		FieldTimeout:        p(w.FieldTimeout, d.FieldTimeout),
		SuggestionTimeout:   p(w.SuggestionTimeout, d.SuggestionTimeout),
		SendButtonTimeout:   p(w.SendButtonTimeout, d.SendButtonTimeout),
		LoginConfirmTimeout: p(w.LoginConfirmTimeout, d.LoginConfirmTimeout),
		InboxTimeout:        p(w.InboxTimeout, d.InboxTimeout),
		SendConfirmTimeout:  p(w.SendConfirmTimeout, d.SendConfirmTimeout),
		RecipientCheck:      p(w.RecipientCheck, d.RecipientCheck),
		PollInterval:        p(w.PollInterval, d.PollInterval),
		KeyDelayMin:         p(w.KeyDelayMin, d.KeyDelayMin),
		KeyDelayMax:         p(w.KeyDelayMax, d.KeyDelayMax),
		ActionSettle:        p(w.ActionSettle, d.ActionSettle),
		StepPauseMin:        p(w.StepPauseMin, d.StepPauseMin),
		StepPauseMax:        p(w.StepPauseMax, d.StepPauseMax),
		ScreenshotSettleMin: p(w.ScreenshotSettleMin, d.ScreenshotSettleMin),
		ScreenshotSettleMax: p(w.ScreenshotSettleMax, d.ScreenshotSettleMax),
	}
}

// RequestTimeout returns the generator request timeout with a sane default.
func (g GeneratorConfig) RequestTimeout() time.Duration {
	return parseDuration(g.Timeout, 60*time.Second)
}
