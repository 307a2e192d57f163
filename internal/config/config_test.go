package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default("/repo")

	if cfg.ClaudeCommand != "claude" {
		t.Errorf("ClaudeCommand = %q, want %q", cfg.ClaudeCommand, "claude")
	}
	if cfg.CodexCommand != "codex" {
		t.Errorf("CodexCommand = %q, want %q", cfg.CodexCommand, "codex")
	}
	if !cfg.FailoverEnabled {
		t.Error("FailoverEnabled = false, want true")
	}
	if cfg.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.MaxIterations)
	}
	if cfg.BlockerThreshold != 3 {
		t.Errorf("BlockerThreshold = %d, want 3", cfg.BlockerThreshold)
	}
	if cfg.BlockerCooldown != 30*time.Minute {
		t.Errorf("BlockerCooldown = %v, want 30m", cfg.BlockerCooldown)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PlanDoc != "IMPLEMENTATION_PLAN.md" {
		t.Errorf("PlanDoc = %q, want default", cfg.PlanDoc)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
max_iterations: 5
failover: false
plan_doc: PLAN.md
deploy_command: "make deploy"
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.MaxIterations)
	}
	if cfg.FailoverEnabled {
		t.Error("FailoverEnabled = true, want false")
	}
	if cfg.PlanDoc != "PLAN.md" {
		t.Errorf("PlanDoc = %q, want PLAN.md", cfg.PlanDoc)
	}
	if cfg.DeployCommand != "make deploy" {
		t.Errorf("DeployCommand = %q, want %q", cfg.DeployCommand, "make deploy")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	yml := "max_iterations: 5\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RALPH_MAX_ITERATIONS", "7")
	t.Setenv("RALPH_CLAUDE_CMD", "/opt/bin/claude")
	t.Setenv("RALPH_NOTIFY_TIMEOUT", "3s")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7 (env override)", cfg.MaxIterations)
	}
	if cfg.ClaudeCommand != "/opt/bin/claude" {
		t.Errorf("ClaudeCommand = %q, want env override", cfg.ClaudeCommand)
	}
	if cfg.NotifyTimeout != 3*time.Second {
		t.Errorf("NotifyTimeout = %v, want 3s (env override)", cfg.NotifyTimeout)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("max_iterations: [broken"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Load() error = nil for invalid YAML, want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, true},
		{"zero blocker threshold", func(c *Config) { c.BlockerThreshold = 0 }, true},
		{"sub-second cycle interval", func(c *Config) { c.CycleInterval = 100 * time.Millisecond }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/repo")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)

	got, err := cfg.StateDir()
	if err != nil {
		t.Fatalf("StateDir() error = %v", err)
	}
	if got != filepath.Join(dir, StateDirName) {
		t.Errorf("StateDir() = %q, want under repo", got)
	}
	info, err := os.Stat(got)
	if err != nil || !info.IsDir() {
		t.Error("StateDir() did not create the directory")
	}
}
