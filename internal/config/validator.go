package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "pipeline.max_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters
// Branch names should start with alphanumeric and can contain alphanumeric, hyphen, underscore, slash
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_/-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStoreBackends returns the list of valid persistence backends
func ValidStoreBackends() []string {
	return []string{"file", "sqlite"}
}

// ValidExecutorBackends returns the list of valid executor backends
func ValidExecutorBackends() []string {
	return []string{"process", "sentinel"}
}

// ValidWorkspaceBackends returns the list of valid workspace backends
func ValidWorkspaceBackends() []string {
	return []string{"worktree", "directory"}
}

// maxAttemptsLimit keeps a misconfigured revision loop from running all night
const maxAttemptsLimit = 20

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePipeline()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateWorkspace()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePipeline() []ValidationError {
	var errors []ValidationError

	if c.Pipeline.MaxAttempts < 1 || c.Pipeline.MaxAttempts > maxAttemptsLimit {
		errors = append(errors, ValidationError{
			Field:   "pipeline.max_attempts",
			Value:   c.Pipeline.MaxAttempts,
			Message: fmt.Sprintf("must be between 1 and %d", maxAttemptsLimit),
		})
	}
	if strings.TrimSpace(c.Pipeline.Validator) == "" {
		errors = append(errors, ValidationError{
			Field:   "pipeline.validator",
			Value:   c.Pipeline.Validator,
			Message: "must not be empty",
		})
	}
	errors = append(errors, validatePath("pipeline.state_dir", c.Pipeline.StateDir, true)...)

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreBackends(), c.Store.Backend) {
		errors = append(errors, oneOf("store.backend", c.Store.Backend, ValidStoreBackends()))
	}
	errors = append(errors, validatePath("store.path", c.Store.Path, false)...)

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidExecutorBackends(), c.Executor.Backend) {
		errors = append(errors, oneOf("executor.backend", c.Executor.Backend, ValidExecutorBackends()))
	}

	// Only the process backend runs a command itself
	if c.Executor.Backend == "process" && strings.TrimSpace(c.Executor.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "executor.command",
			Value:   c.Executor.Command,
			Message: "is required for the process backend",
		})
	}

	for i, kv := range c.Executor.Env {
		if key, _, ok := strings.Cut(kv, "="); !ok || key == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("executor.env[%d]", i),
				Value:   kv,
				Message: "must be KEY=VALUE",
			})
		}
	}

	if strings.TrimSpace(c.Executor.VerdictFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "executor.verdict_file",
			Value:   c.Executor.VerdictFile,
			Message: "must not be empty",
		})
	} else if strings.HasPrefix(c.Executor.VerdictFile, "/") || strings.Contains(c.Executor.VerdictFile, "..") {
		errors = append(errors, ValidationError{
			Field:   "executor.verdict_file",
			Value:   c.Executor.VerdictFile,
			Message: "must be a relative path inside the workspace",
		})
	}

	if c.Executor.KillGraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.kill_grace_seconds",
			Value:   c.Executor.KillGraceSeconds,
			Message: "must be non-negative",
		})
	}

	errors = append(errors, validatePath("executor.log_dir", c.Executor.LogDir, false)...)

	return errors
}

func (c *Config) validateWorkspace() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidWorkspaceBackends(), c.Workspace.Backend) {
		errors = append(errors, oneOf("workspace.backend", c.Workspace.Backend, ValidWorkspaceBackends()))
	}

	if c.Workspace.Backend == "worktree" && !branchPrefixRegex.MatchString(c.Workspace.BranchPrefix) {
		errors = append(errors, ValidationError{
			Field:   "workspace.branch_prefix",
			Value:   c.Workspace.BranchPrefix,
			Message: "must start with a letter and contain only letters, digits, hyphens, underscores or slashes",
		})
	}

	errors = append(errors, validatePath("workspace.repo", c.Workspace.Repo, false)...)
	errors = append(errors, validatePath("workspace.root", c.Workspace.Root, false)...)

	return errors
}

func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError

	if !c.Monitor.Enabled {
		return errors
	}

	if c.Monitor.StallTimeoutMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.stall_timeout_minutes",
			Value:   c.Monitor.StallTimeoutMinutes,
			Message: "must be positive",
		})
	}

	// Scanning faster than once a second only burns lock time
	if c.Monitor.IntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "monitor.interval_seconds",
			Value:   c.Monitor.IntervalSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if !strings.Contains(c.Server.Addr, ":") {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must be host:port",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, oneOf("logging.level", c.Logging.Level, ValidLogLevels()))
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func oneOf(field, value string, valid []string) ValidationError {
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
	}
}

// validatePath rejects paths no filesystem accepts.
func validatePath(field, path string, required bool) []ValidationError {
	if path == "" {
		if required {
			return []ValidationError{{Field: field, Value: path, Message: "must not be empty"}}
		}
		return nil
	}

	var errors []ValidationError
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}
	return errors
}
