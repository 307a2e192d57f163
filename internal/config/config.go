// Package config centralizes configuration for the ralph loop and daemon.
// Values are resolved in three layers: built-in defaults, an optional
// ralph.yml in the working repository, then RALPH_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional per-repository config file.
const ConfigFileName = "ralph.yml"

// StateDirName is the directory holding ralph's runtime state inside a repo.
const StateDirName = ".ralph"

// Config holds all configuration for the loop and daemon.
type Config struct {
	// RepoDir is the working repository root.
	RepoDir string `yaml:"-"`

	// Backends
	ClaudeCommand string `yaml:"claude_command"`
	CodexCommand  string `yaml:"codex_command"`

	// FailoverEnabled allows switching to the alternate backend when the
	// preferred one is rate-limited or missing.
	FailoverEnabled bool `yaml:"failover"`

	// Loop
	MaxIterations  int           `yaml:"max_iterations"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`
	ReviewPass     bool          `yaml:"review_pass"`
	SecurityPass   bool          `yaml:"security_pass"`

	// Daemon
	CycleInterval    time.Duration `yaml:"cycle_interval"`
	BlockerThreshold int           `yaml:"blocker_threshold"`
	BlockerCooldown  time.Duration `yaml:"blocker_cooldown"`
	DeployCommand    string        `yaml:"deploy_command"`
	IngestCommand    string        `yaml:"ingest_command"`

	// Documents
	PlanDoc     string `yaml:"plan_doc"`
	ControlDoc  string `yaml:"control_doc"`
	QuestionDoc string `yaml:"question_doc"`

	// Notifications
	WebhookURL     string `yaml:"webhook_url"`
	DesktopNotify  bool   `yaml:"desktop_notify"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration for a repository root.
func Default(repoDir string) *Config {
	return &Config{
		RepoDir:          repoDir,
		ClaudeCommand:    "claude",
		CodexCommand:     "codex",
		FailoverEnabled:  true,
		MaxIterations:    10,
		BackendTimeout:   30 * time.Minute,
		ReviewPass:       true,
		SecurityPass:     false,
		CycleInterval:    60 * time.Second,
		BlockerThreshold: 3,
		BlockerCooldown:  30 * time.Minute,
		PlanDoc:          "IMPLEMENTATION_PLAN.md",
		ControlDoc:       "AGENT_CONTROL.md",
		QuestionDoc:      "QUESTIONS.md",
		DesktopNotify:    true,
		NotifyTimeout:    10 * time.Second,
		LogLevel:         "info",
	}
}

// Load resolves configuration for repoDir: defaults, then ralph.yml if present,
// then environment overrides.
func Load(repoDir string) (*Config, error) {
	cfg := Default(repoDir)

	path := filepath.Join(repoDir, ConfigFileName)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ConfigFileName, err)
		}
	}

	cfg.applyEnv()

	return cfg, cfg.Validate()
}

// Validate checks ranges that would otherwise fail silently at runtime.
func (c *Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.BlockerThreshold < 1 {
		return fmt.Errorf("blocker_threshold must be >= 1, got %d", c.BlockerThreshold)
	}
	if c.CycleInterval < time.Second {
		return fmt.Errorf("cycle_interval must be >= 1s, got %v", c.CycleInterval)
	}
	return nil
}

// StateDir returns the .ralph directory, creating it if needed.
func (c *Config) StateDir() (string, error) {
	dir := filepath.Join(c.RepoDir, StateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// PlanDocPath returns the absolute path of the task-plan document.
func (c *Config) PlanDocPath() string { return filepath.Join(c.RepoDir, c.PlanDoc) }

// ControlDocPath returns the absolute path of the control document.
func (c *Config) ControlDocPath() string { return filepath.Join(c.RepoDir, c.ControlDoc) }

// QuestionDocPath returns the absolute path of the question document.
func (c *Config) QuestionDocPath() string { return filepath.Join(c.RepoDir, c.QuestionDoc) }

func (c *Config) applyEnv() {
	c.ClaudeCommand = getEnv("RALPH_CLAUDE_CMD", c.ClaudeCommand)
	c.CodexCommand = getEnv("RALPH_CODEX_CMD", c.CodexCommand)
	c.FailoverEnabled = getEnvBool("RALPH_FAILOVER", c.FailoverEnabled)
	c.MaxIterations = getEnvInt("RALPH_MAX_ITERATIONS", c.MaxIterations)
	c.BackendTimeout = getEnvDuration("RALPH_BACKEND_TIMEOUT", c.BackendTimeout)
	c.ReviewPass = getEnvBool("RALPH_REVIEW_PASS", c.ReviewPass)
	c.SecurityPass = getEnvBool("RALPH_SECURITY_PASS", c.SecurityPass)
	c.CycleInterval = getEnvDuration("RALPH_CYCLE_INTERVAL", c.CycleInterval)
	c.BlockerThreshold = getEnvInt("RALPH_BLOCKER_THRESHOLD", c.BlockerThreshold)
	c.BlockerCooldown = getEnvDuration("RALPH_BLOCKER_COOLDOWN", c.BlockerCooldown)
	c.DeployCommand = getEnv("RALPH_DEPLOY_CMD", c.DeployCommand)
	c.IngestCommand = getEnv("RALPH_INGEST_CMD", c.IngestCommand)
	c.WebhookURL = getEnv("RALPH_WEBHOOK_URL", c.WebhookURL)
	c.DesktopNotify = getEnvBool("RALPH_DESKTOP_NOTIFY", c.DesktopNotify)
	c.NotifyTimeout = getEnvDuration("RALPH_NOTIFY_TIMEOUT", c.NotifyTimeout)
	c.LogLevel = getEnv("RALPH_LOG_LEVEL", c.LogLevel)
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1"
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
