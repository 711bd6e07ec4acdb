package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("Pipeline.MaxAttempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Pipeline.Validator != "validator" {
		t.Errorf("Pipeline.Validator = %q, want %q", cfg.Pipeline.Validator, "validator")
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "file")
	}
	if cfg.Executor.Backend != "process" {
		t.Errorf("Executor.Backend = %q, want %q", cfg.Executor.Backend, "process")
	}
	if cfg.Workspace.Backend != "worktree" {
		t.Errorf("Workspace.Backend = %q, want %q", cfg.Workspace.Backend, "worktree")
	}
	if !cfg.Monitor.Enabled {
		t.Error("Monitor.Enabled = false, want true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.Monitor.StallTimeout(); got != time.Hour {
		t.Errorf("StallTimeout() = %v, want 1h", got)
	}
	if got := cfg.Monitor.Interval(); got != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", got)
	}
	if got := cfg.Executor.KillGrace(); got != 5*time.Second {
		t.Errorf("KillGrace() = %v, want 5s", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/foreman" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/foreman")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "foreman")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/foreman/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestGet(t *testing.T) {
	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("Get().Pipeline.MaxAttempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
}

func TestLoadFrom_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	content := `
pipeline:
  max_attempts: 5
store:
  backend: sqlite
executor:
  backend: sentinel
  env:
    - MODEL=opus
workspace:
  backend: directory
  root: /tmp/lines
monitor:
  stall_timeout_minutes: 15
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	for key, value := range defaultsMap() {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Executor.Backend != "sentinel" || len(cfg.Executor.Env) != 1 {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Workspace.Root != "/tmp/lines" {
		t.Errorf("Workspace.Root = %q", cfg.Workspace.Root)
	}
	if cfg.Monitor.StallTimeoutMinutes != 15 || cfg.Monitor.IntervalSeconds != 30 {
		t.Errorf("Monitor = %+v", cfg.Monitor)
	}
	// Untouched sections keep their defaults
	if cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	v := viper.New()
	for key, value := range defaultsMap() {
		v.SetDefault(key, value)
	}
	v.Set("pipeline.max_attempts", 0)
	v.Set("store.backend", "postgres")

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom() should reject invalid values")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(verrs), verrs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"default is valid", func(*Config) {}, ""},
		{"max attempts zero", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "pipeline.max_attempts"},
		{"max attempts too large", func(c *Config) { c.Pipeline.MaxAttempts = 21 }, "pipeline.max_attempts"},
		{"blank validator", func(c *Config) { c.Pipeline.Validator = "  " }, "pipeline.validator"},
		{"empty state dir", func(c *Config) { c.Pipeline.StateDir = "" }, "pipeline.state_dir"},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"null in store path", func(c *Config) { c.Store.Path = "a\x00b" }, "store.path"},
		{"unknown executor", func(c *Config) { c.Executor.Backend = "tmux" }, "executor.backend"},
		{"process without command", func(c *Config) { c.Executor.Command = "" }, "executor.command"},
		{"sentinel without command", func(c *Config) {
			c.Executor.Backend = "sentinel"
			c.Executor.Command = ""
		}, ""},
		{"bad env", func(c *Config) { c.Executor.Env = []string{"NOVALUE"} }, "executor.env[0]"},
		{"absolute verdict file", func(c *Config) { c.Executor.VerdictFile = "/tmp/v.json" }, "executor.verdict_file"},
		{"escaping verdict file", func(c *Config) { c.Executor.VerdictFile = "../v.json" }, "executor.verdict_file"},
		{"empty verdict file", func(c *Config) { c.Executor.VerdictFile = "" }, "executor.verdict_file"},
		{"negative grace", func(c *Config) { c.Executor.KillGraceSeconds = -1 }, "executor.kill_grace_seconds"},
		{"unknown workspace", func(c *Config) { c.Workspace.Backend = "docker" }, "workspace.backend"},
		{"bad branch prefix", func(c *Config) { c.Workspace.BranchPrefix = "-x" }, "workspace.branch_prefix"},
		{"nested branch prefix", func(c *Config) { c.Workspace.BranchPrefix = "team/lines" }, ""},
		{"directory ignores prefix", func(c *Config) {
			c.Workspace.Backend = "directory"
			c.Workspace.BranchPrefix = ""
		}, ""},
		{"zero stall timeout", func(c *Config) { c.Monitor.StallTimeoutMinutes = 0 }, "monitor.stall_timeout_minutes"},
		{"zero interval", func(c *Config) { c.Monitor.IntervalSeconds = 0 }, "monitor.interval_seconds"},
		{"disabled monitor skips checks", func(c *Config) {
			c.Monitor.Enabled = false
			c.Monitor.IntervalSeconds = 0
		}, ""},
		{"addr without port", func(c *Config) { c.Server.Addr = "localhost" }, "server.addr"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 2000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()

			if tt.field == "" {
				if len(errs) != 0 {
					t.Errorf("Validate() = %v, want no errors", errs)
				}
				return
			}
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want exactly one error", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := (ValidationErrors{}).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}

	single := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := single.Error(); got != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", got)
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: "x", Message: "worse"},
	}
	got := multi.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "2. b: worse") {
		t.Errorf("multi Error() = %q", got)
	}
}

// defaultsMap mirrors SetDefaults for tests that use a private viper.
func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"pipeline.max_attempts":         d.Pipeline.MaxAttempts,
		"pipeline.validator":            d.Pipeline.Validator,
		"pipeline.state_dir":            d.Pipeline.StateDir,
		"store.backend":                 d.Store.Backend,
		"store.path":                    d.Store.Path,
		"executor.backend":              d.Executor.Backend,
		"executor.command":              d.Executor.Command,
		"executor.args":                 d.Executor.Args,
		"executor.verdict_file":         d.Executor.VerdictFile,
		"executor.kill_grace_seconds":   d.Executor.KillGraceSeconds,
		"workspace.backend":             d.Workspace.Backend,
		"workspace.branch_prefix":       d.Workspace.BranchPrefix,
		"monitor.enabled":               d.Monitor.Enabled,
		"monitor.stall_timeout_minutes": d.Monitor.StallTimeoutMinutes,
		"monitor.interval_seconds":      d.Monitor.IntervalSeconds,
		"server.addr":                   d.Server.Addr,
		"logging.level":                 d.Logging.Level,
		"logging.max_size_mb":           d.Logging.MaxSizeMB,
		"logging.max_backups":           d.Logging.MaxBackups,
	}
}
