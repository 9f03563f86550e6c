// Package config loads the process-wide, immutable configuration. Get
// reads it at most once per process (a sync.Once-guarded singleton) per the
// "process-wide immutable config" design note: repeated reads within one
// render are cheap and consistent. Reload re-reads the file without
// touching the singleton, and ResetForTest clears the singleton for tests.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/hagan/claudia-statusline/internal/clock"
	"github.com/hagan/claudia-statusline/internal/errs"
	"github.com/hagan/claudia-statusline/internal/retry"
)

// RetrySettings is one {file_ops,db_ops,git_ops,network_ops} retry block.
type RetrySettings struct {
	MaxAttempts   int     `mapstructure:"max_attempts"`
	InitialDelayMs int    `mapstructure:"initial_delay_ms"`
	MaxDelayMs    int     `mapstructure:"max_delay_ms"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
}

// DisplayConfig controls renderer presentation.
type DisplayConfig struct {
	Theme            string `mapstructure:"theme"`
	ShowGit          bool   `mapstructure:"show_git"`
	ShowTokens       bool   `mapstructure:"show_tokens"`
	ProgressBarWidth int    `mapstructure:"progress_bar_width"`
}

// ContextConfig controls the context-usage bar and learner threshold.
// The three percentage thresholds gate the bar's color: at or below
// Caution it's normal, above Caution it's yellow, above Warning orange,
// above Critical red (original_source/src/config.rs's equivalent fields).
type ContextConfig struct {
	DefaultWindow     int     `mapstructure:"default_window"`
	LearnedThreshold  float64 `mapstructure:"learned_threshold"`
	ShowContextTokens bool    `mapstructure:"show_context_tokens"`
	CautionThreshold  float64 `mapstructure:"context_caution_threshold"`
	WarningThreshold  float64 `mapstructure:"context_warning_threshold"`
	CriticalThreshold float64 `mapstructure:"context_critical_threshold"`
}

// CostConfig controls cost/burn-rate presentation. LowThreshold and
// MediumThreshold gate the session cost color (green below low, yellow
// between low and medium, red at or above medium), mirroring
// original_source/src/config.rs's CostConfig.
type CostConfig struct {
	ShowDailyTotal  bool    `mapstructure:"show_daily_total"`
	ShowBurnRate    bool    `mapstructure:"show_burn_rate"`
	LowThreshold    float64 `mapstructure:"low_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`
}

// DatabaseConfig controls the relational store's connection behavior.
type DatabaseConfig struct {
	BusyTimeoutMs int `mapstructure:"busy_timeout_ms"`
	MaxConnections int `mapstructure:"max_connections"`
	RetentionSessionsDays int `mapstructure:"retention_sessions_days"`
	RetentionDailyDays    int `mapstructure:"retention_daily_days"`
}

// RetryConfig is the full {file_ops,db_ops,git_ops,network_ops} table.
type RetryConfig struct {
	FileOps    RetrySettings `mapstructure:"file_ops"`
	DbOps      RetrySettings `mapstructure:"db_ops"`
	GitOps     RetrySettings `mapstructure:"git_ops"`
	NetworkOps RetrySettings `mapstructure:"network_ops"`
}

// TranscriptConfig controls the bounded tail-reader's buffer sizing.
type TranscriptConfig struct {
	BufferLines int `mapstructure:"buffer_lines"`
	ManualCompactionCheckLines int `mapstructure:"manual_compaction_check_lines"`
}

// GitConfig controls git-status collection.
type GitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// BurnRateConfig selects the session lifecycle policy.
type BurnRateConfig struct {
	Mode            string `mapstructure:"mode"` // wall_clock | active_time | auto_reset
	ThresholdSeconds int   `mapstructure:"threshold_seconds"`
}

// TokenRateConfig toggles token-rate reporting.
type TokenRateConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SyncConfig is present but inert: remote sync is out of scope (spec.md
// §1 Non-goals), but the field documents the boundary rather than being
// silently absent.
type SyncConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Config is the fully-resolved, process-wide configuration.
type Config struct {
	Display   DisplayConfig    `mapstructure:"display"`
	Context   ContextConfig    `mapstructure:"context"`
	Cost      CostConfig       `mapstructure:"cost"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Git       GitConfig        `mapstructure:"git"`
	BurnRate  BurnRateConfig   `mapstructure:"burn_rate"`
	TokenRate TokenRateConfig  `mapstructure:"token_rate"`
	Sync      SyncConfig       `mapstructure:"sync"`

	// JSONBackup toggles the secondary JSON stats-file dual-write (C4).
	JSONBackup bool `mapstructure:"json_backup"`

	// DeviceID is not a TOML field; it is resolved once at load time and
	// threaded through to the stats engine and learner's audit columns.
	DeviceID string `mapstructure:"-"`
}

func defaults() Config {
	return Config{
		Display: DisplayConfig{Theme: "default", ShowGit: true, ShowTokens: false, ProgressBarWidth: 10},
		Context: ContextConfig{
			DefaultWindow:     160_000,
			LearnedThreshold:  0.7,
			ShowContextTokens: false,
			CautionThreshold:  0.70,
			WarningThreshold:  0.85,
			CriticalThreshold: 0.95,
		},
		Cost:     CostConfig{ShowDailyTotal: true, ShowBurnRate: true, LowThreshold: 5.0, MediumThreshold: 20.0},
		Database: DatabaseConfig{BusyTimeoutMs: 10_000, MaxConnections: 5, RetentionSessionsDays: 90, RetentionDailyDays: 365},
		Retry: RetryConfig{
			FileOps:    RetrySettings{MaxAttempts: 3, InitialDelayMs: 100, MaxDelayMs: 5_000, BackoffFactor: 2.0},
			DbOps:      RetrySettings{MaxAttempts: 5, InitialDelayMs: 50, MaxDelayMs: 2_000, BackoffFactor: 1.5},
			GitOps:     RetrySettings{MaxAttempts: 2, InitialDelayMs: 100, MaxDelayMs: 1_000, BackoffFactor: 2.0},
			NetworkOps: RetrySettings{MaxAttempts: 3, InitialDelayMs: 200, MaxDelayMs: 5_000, BackoffFactor: 2.0},
		},
		Transcript: TranscriptConfig{BufferLines: 50, ManualCompactionCheckLines: 5},
		Git:        GitConfig{Enabled: true},
		BurnRate:   BurnRateConfig{Mode: "wall_clock", ThresholdSeconds: 300},
		TokenRate:  TokenRateConfig{Enabled: true},
		Sync:       SyncConfig{Enabled: false},
		JSONBackup: true,
	}
}

var (
	singleton *Config
	once      sync.Once
	loadErr   error
)

// Get returns the process-wide configuration, loading it on first call.
func Get() (*Config, error) {
	once.Do(func() {
		singleton, loadErr = load()
	})
	return singleton, loadErr
}

// Reload re-reads the configuration file from disk, bypassing the
// process-wide singleton. It does not replace what Get returns elsewhere
// in the process; it exists for the rare long-lived caller (db-maintain
// --watch) that explicitly wants to pick up an edited config file without
// restarting.
func Reload() (*Config, error) {
	return load()
}

// resetForTest clears the singleton so tests can exercise load() again.
// Only intended for use from this package's own tests and from test
// helpers in other packages that accept the documented process-wide
// constraint (spec.md §9: repeated env changes only apply to a fresh
// process in production; tests run in-process must serialize).
func resetForTest() {
	singleton = nil
	loadErr = nil
	once = sync.Once{}
}

// ResetForTest is resetForTest exported for other packages' tests (e.g.
// cmd's end-to-end scenario tests) that need a fresh singleton per test
// case. Not meant for production call sites.
func ResetForTest() {
	resetForTest()
}

func load() (*Config, error) {
	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	v := viper.New()
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Config("failed to read config file " + path + ": " + err.Error())
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, errs.Config("failed to parse config file " + path + ": " + err.Error())
		}
	}

	if mode := os.Getenv("STATUSLINE_BURN_RATE_MODE"); mode != "" {
		cfg.BurnRate.Mode = mode
	}
	if th := os.Getenv("STATUSLINE_BURN_RATE_THRESHOLD"); th != "" {
		if secs, ok := parsePositiveInt(th); ok {
			cfg.BurnRate.ThresholdSeconds = secs
		}
	}
	if v := os.Getenv("STATUSLINE_JSON_BACKUP"); v != "" {
		cfg.JSONBackup = parseBoolLenient(v)
	}
	if v := os.Getenv("STATUSLINE_SHOW_CONTEXT_TOKENS"); v != "" {
		cfg.Context.ShowContextTokens = parseBoolLenient(v)
	}

	deviceID, err := resolveDeviceID()
	if err != nil {
		return nil, err
	}
	cfg.DeviceID = deviceID

	return &cfg, nil
}

// findConfigFile implements P13's precedence: (a) STATUSLINE_CONFIG_PATH
// if set and existing; else (b) STATUSLINE_CONFIG if set and existing;
// else (c) <config_dir>/<app>/config.toml if existing; else (d)
// <home>/.<app>.toml if existing; else "" (defaults only).
func findConfigFile() (string, error) {
	if p := os.Getenv("STATUSLINE_CONFIG_PATH"); p != "" {
		if fileExists(p) {
			return p, nil
		}
	}
	if p := os.Getenv("STATUSLINE_CONFIG"); p != "" {
		if fileExists(p) {
			return p, nil
		}
	}
	if dir, err := clock.ConfigDir(); err == nil {
		candidate := filepath.Join(dir, "config.toml")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".claudia-statusline.toml")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// DefaultConfigPath is where `generate-config` writes its output: the
// XDG config directory's config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := clock.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func resolveDeviceID() (string, error) {
	if v := os.Getenv("STATUSLINE_DEVICE_ID"); v != "" {
		return v, nil
	}
	dir, err := clock.ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "device_id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return string(data), nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errs.OtherErr("cannot create config dir", err)
	}
	id := uuid.NewString()
	_ = os.WriteFile(path, []byte(id), 0o600)
	return id, nil
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// ExampleTOML returns a fully-commented default config, written out by
// the `generate-config` subcommand.
func ExampleTOML() string {
	d := defaults()
	return `# claudia-statusline configuration
# Every field below has a built-in default; uncomment and edit only
# what you want to change. Unknown fields are ignored.

# Top-level keys must precede the first table header.
json_backup = ` + boolStr(d.JSONBackup) + `

[display]
theme = "` + d.Display.Theme + `"
show_git = ` + boolStr(d.Display.ShowGit) + `
show_tokens = ` + boolStr(d.Display.ShowTokens) + `
progress_bar_width = ` + itoa(d.Display.ProgressBarWidth) + `

[context]
default_window = ` + itoa(d.Context.DefaultWindow) + `
learned_threshold = ` + ftoa(d.Context.LearnedThreshold) + `
show_context_tokens = ` + boolStr(d.Context.ShowContextTokens) + `
context_caution_threshold = ` + ftoa(d.Context.CautionThreshold) + `
context_warning_threshold = ` + ftoa(d.Context.WarningThreshold) + `
context_critical_threshold = ` + ftoa(d.Context.CriticalThreshold) + `

[cost]
show_daily_total = ` + boolStr(d.Cost.ShowDailyTotal) + `
show_burn_rate = ` + boolStr(d.Cost.ShowBurnRate) + `
low_threshold = ` + ftoa(d.Cost.LowThreshold) + `
medium_threshold = ` + ftoa(d.Cost.MediumThreshold) + `

[database]
busy_timeout_ms = ` + itoa(d.Database.BusyTimeoutMs) + `
max_connections = ` + itoa(d.Database.MaxConnections) + `
retention_sessions_days = ` + itoa(d.Database.RetentionSessionsDays) + `
retention_daily_days = ` + itoa(d.Database.RetentionDailyDays) + `

[retry.file_ops]
max_attempts = ` + itoa(d.Retry.FileOps.MaxAttempts) + `
initial_delay_ms = ` + itoa(d.Retry.FileOps.InitialDelayMs) + `
max_delay_ms = ` + itoa(d.Retry.FileOps.MaxDelayMs) + `
backoff_factor = ` + ftoa(d.Retry.FileOps.BackoffFactor) + `

[retry.db_ops]
max_attempts = ` + itoa(d.Retry.DbOps.MaxAttempts) + `
initial_delay_ms = ` + itoa(d.Retry.DbOps.InitialDelayMs) + `
max_delay_ms = ` + itoa(d.Retry.DbOps.MaxDelayMs) + `
backoff_factor = ` + ftoa(d.Retry.DbOps.BackoffFactor) + `

[retry.git_ops]
max_attempts = ` + itoa(d.Retry.GitOps.MaxAttempts) + `
initial_delay_ms = ` + itoa(d.Retry.GitOps.InitialDelayMs) + `
max_delay_ms = ` + itoa(d.Retry.GitOps.MaxDelayMs) + `
backoff_factor = ` + ftoa(d.Retry.GitOps.BackoffFactor) + `

[retry.network_ops]
max_attempts = ` + itoa(d.Retry.NetworkOps.MaxAttempts) + `
initial_delay_ms = ` + itoa(d.Retry.NetworkOps.InitialDelayMs) + `
max_delay_ms = ` + itoa(d.Retry.NetworkOps.MaxDelayMs) + `
backoff_factor = ` + ftoa(d.Retry.NetworkOps.BackoffFactor) + `

[transcript]
buffer_lines = ` + itoa(d.Transcript.BufferLines) + `
manual_compaction_check_lines = ` + itoa(d.Transcript.ManualCompactionCheckLines) + `

[git]
enabled = ` + boolStr(d.Git.Enabled) + `

[burn_rate]
mode = "` + d.BurnRate.Mode + `" # wall_clock | active_time | auto_reset
threshold_seconds = ` + itoa(d.BurnRate.ThresholdSeconds) + `

[token_rate]
enabled = ` + boolStr(d.TokenRate.Enabled) + `

# Remote sync is not implemented by this build; this table is inert.
[sync]
enabled = ` + boolStr(d.Sync.Enabled) + `
`
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// asRetryConfig converts a TOML-facing RetrySettings (plain millisecond
// ints) into the duration-typed retry.Config consumed by internal/retry.
func (r RetrySettings) asRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   r.MaxAttempts,
		InitialDelay:  time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(r.MaxDelayMs) * time.Millisecond,
		BackoffFactor: r.BackoffFactor,
	}
}

// FileOpsRetry, DBOpsRetry, and GitOpsRetry return the configured retry
// policy for each concern, ready to pass to retry.WithBackoff.
func (c *Config) FileOpsRetry() retry.Config { return c.Retry.FileOps.asRetryConfig() }
func (c *Config) DBOpsRetry() retry.Config   { return c.Retry.DbOps.asRetryConfig() }
func (c *Config) GitOpsRetry() retry.Config  { return c.Retry.GitOps.asRetryConfig() }

func parseBoolLenient(s string) bool {
	switch s {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	default:
		return false
	}
}
