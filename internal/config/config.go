package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete foreman configuration
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Store     StoreConfig     `mapstructure:"store"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PipelineConfig holds the policy applied to definitions that leave it unset
type PipelineConfig struct {
	// MaxAttempts bounds how often an execution stage may run before a
	// revision loop escalates (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`
	// Validator is the owner assigned to validation stages of phases (default: "validator")
	Validator string `mapstructure:"validator"`
	// StateDir holds snapshots, the process lock and logs (default: ".foreman")
	StateDir string `mapstructure:"state_dir"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Backend is "file" or "sqlite" (default: "file")
	Backend string `mapstructure:"backend"`
	// Path overrides the backend location. For file it is a directory, for
	// sqlite a database file. Empty means a default inside the state dir.
	Path string `mapstructure:"path"`
}

// ExecutorConfig controls how workers are started
type ExecutorConfig struct {
	// Backend is "process" or "sentinel" (default: "process")
	Backend string `mapstructure:"backend"`
	// Command is the worker binary for the process backend
	Command string `mapstructure:"command"`
	// Args are passed to Command. Placeholders such as {stage} and
	// {prompt_file} are expanded per stage.
	Args []string `mapstructure:"args"`
	// Env holds extra KEY=VALUE pairs added to every worker's environment
	Env []string `mapstructure:"env"`
	// VerdictFile is where validators write their verdict, relative to the workspace
	VerdictFile string `mapstructure:"verdict_file"`
	// LogDir collects worker output. Empty keeps logs inside each workspace.
	LogDir string `mapstructure:"log_dir"`
	// KillGraceSeconds is how long a canceled worker gets before it is killed (default: 5)
	KillGraceSeconds int `mapstructure:"kill_grace_seconds"`
}

// WorkspaceConfig controls workspace provisioning
type WorkspaceConfig struct {
	// Backend is "worktree" or "directory" (default: "worktree")
	Backend string `mapstructure:"backend"`
	// Repo is the git repository worktrees are created from (default: current directory)
	Repo string `mapstructure:"repo"`
	// Root is the directory workspaces are created under. Empty means
	// <repo>/.foreman/worktrees for worktrees and <state_dir>/workspaces for directories.
	Root string `mapstructure:"root"`
	// BranchPrefix names worktree branches as <prefix>/<pipeline-id> (default: "foreman")
	BranchPrefix string `mapstructure:"branch_prefix"`
	// KeepOnRelease leaves workspaces on disk once a pipeline finishes
	KeepOnRelease bool `mapstructure:"keep_on_release"`
}

// MonitorConfig controls stall detection
type MonitorConfig struct {
	// Enabled turns the stall monitor on in serve mode (default: true)
	Enabled bool `mapstructure:"enabled"`
	// StallTimeoutMinutes is how long a stage may run before it is escalated (default: 60)
	StallTimeoutMinutes int `mapstructure:"stall_timeout_minutes"`
	// IntervalSeconds is how often running pipelines are scanned (default: 30)
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// ServerConfig controls the operator HTTP API
type ServerConfig struct {
	// Addr is the listen address for serve and the target for remote commands (default: "127.0.0.1:7420")
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum size of a log file before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxAttempts: 3,
			Validator:   "validator",
			StateDir:    ".foreman",
		},
		Store: StoreConfig{
			Backend: "file",
		},
		Executor: ExecutorConfig{
			Backend:          "process",
			Command:          "sh",
			Args:             []string{"-c", `claude --print < "$FOREMAN_PROMPT_FILE"`},
			VerdictFile:      ".foreman-verdict.json",
			KillGraceSeconds: 5,
		},
		Workspace: WorkspaceConfig{
			Backend:      "worktree",
			BranchPrefix: "foreman",
		},
		Monitor: MonitorConfig{
			Enabled:             true,
			StallTimeoutMinutes: 60,
			IntervalSeconds:     30,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// StallTimeout returns the stall timeout as a Duration
func (c *MonitorConfig) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMinutes) * time.Minute
}

// Interval returns the scan interval as a Duration
func (c *MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// KillGrace returns the cancellation grace period as a Duration
func (c *ExecutorConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Pipeline defaults
	viper.SetDefault("pipeline.max_attempts", defaults.Pipeline.MaxAttempts)
	viper.SetDefault("pipeline.validator", defaults.Pipeline.Validator)
	viper.SetDefault("pipeline.state_dir", defaults.Pipeline.StateDir)

	// Store defaults
	viper.SetDefault("store.backend", defaults.Store.Backend)
	viper.SetDefault("store.path", defaults.Store.Path)

	// Executor defaults
	viper.SetDefault("executor.backend", defaults.Executor.Backend)
	viper.SetDefault("executor.command", defaults.Executor.Command)
	viper.SetDefault("executor.args", defaults.Executor.Args)
	viper.SetDefault("executor.env", []string{})
	viper.SetDefault("executor.verdict_file", defaults.Executor.VerdictFile)
	viper.SetDefault("executor.log_dir", defaults.Executor.LogDir)
	viper.SetDefault("executor.kill_grace_seconds", defaults.Executor.KillGraceSeconds)

	// Workspace defaults
	viper.SetDefault("workspace.backend", defaults.Workspace.Backend)
	viper.SetDefault("workspace.repo", defaults.Workspace.Repo)
	viper.SetDefault("workspace.root", defaults.Workspace.Root)
	viper.SetDefault("workspace.branch_prefix", defaults.Workspace.BranchPrefix)
	viper.SetDefault("workspace.keep_on_release", defaults.Workspace.KeepOnRelease)

	// Monitor defaults
	viper.SetDefault("monitor.enabled", defaults.Monitor.Enabled)
	viper.SetDefault("monitor.stall_timeout_minutes", defaults.Monitor.StallTimeoutMinutes)
	viper.SetDefault("monitor.interval_seconds", defaults.Monitor.IntervalSeconds)

	// Server defaults
	viper.SetDefault("server.addr", defaults.Server.Addr)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "foreman")
	}
	// Fall back to ~/.config/foreman
	home, err := os.UserHomeDir()
	if err != nil {
		return ".foreman"
	}
	return filepath.Join(home, ".config", "foreman")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
