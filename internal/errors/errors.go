// Package errors provides centralized error definitions and error handling utilities
// for foreman. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors map onto the pipeline engine's error taxonomy:
//   - DefinitionError: a pipeline definition could not be resolved into stages
//   - WorkspaceError: a workspace could not be provisioned or released
//   - ExecutorTransportError: the executor plumbing failed (not the worker itself)
//   - PipelineError: an operator command was rejected for a pipeline's current state
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
//	err := errors.NewDefinitionError("phase output is blank", errors.ErrBlankOutput).
//	    WithPhase("design").WithField("output")
//
//	if errors.Is(err, errors.ErrBlankOutput) { ... }
//
//	var defErr *errors.DefinitionError
//	if errors.As(err, &defErr) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to operators (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Definition-related sentinel errors
var (
	// ErrEmptyDefinition indicates a definition without any phases or roles.
	ErrEmptyDefinition = New("definition has no phases or roles")
	// ErrBlankOutput indicates a phase or role with an empty output field.
	ErrBlankOutput = New("output is blank")
	// ErrDuplicatePhase indicates the same phase or role name appears twice.
	ErrDuplicatePhase = New("duplicate phase name")
	// ErrAmbiguousDefinition indicates a definition naming both a template and phases.
	ErrAmbiguousDefinition = New("definition must specify exactly one of template or phases")
	// ErrUnknownTemplate indicates a template name with no built-in definition.
	ErrUnknownTemplate = New("unknown template")
)

// Pipeline-related sentinel errors
var (
	// ErrPipelineNotFound indicates that a pipeline could not be found.
	ErrPipelineNotFound = New("pipeline not found")
	// ErrPipelineTerminal indicates a command was issued against a finished pipeline.
	ErrPipelineTerminal = New("pipeline is in a terminal state")
	// ErrPipelineNotRunning indicates a command that requires a running pipeline.
	ErrPipelineNotRunning = New("pipeline is not running")
	// ErrPipelineActive indicates a delete was attempted on a pipeline that may still run.
	ErrPipelineActive = New("pipeline is still active")
	// ErrNotEscalated indicates a resume was attempted on a pipeline that is not awaiting escalation.
	ErrNotEscalated = New("pipeline is not awaiting escalation")
	// ErrStageChanged indicates the stage a command targeted is no longer the one in flight.
	ErrStageChanged = New("stage at cursor changed")
	// ErrInvalidDecision indicates an operator decision that cannot be applied.
	ErrInvalidDecision = New("invalid operator decision")
	// ErrUnparseableVerdict indicates a validator payload that could not be parsed.
	ErrUnparseableVerdict = New("unparseable verdict payload")
)

// Workspace and executor sentinel errors
var (
	// ErrWorkspaceUnavailable indicates that a workspace could not be allocated.
	ErrWorkspaceUnavailable = New("workspace unavailable")
	// ErrSpawnFailed indicates that the executor could not start a worker.
	ErrSpawnFailed = New("worker failed to start")
	// ErrHandleLost indicates that the executor lost track of a running worker.
	ErrHandleLost = New("worker handle lost")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ForemanError is the base interface for all foreman errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ForemanError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to operators.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show operators.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// DefinitionError represents a pipeline definition that cannot be resolved.
// No pipeline is created when launch fails with this error.
//
// Example:
//
//	err := errors.NewDefinitionError("phase output is blank", errors.ErrBlankOutput).WithPhase("design")
//	fmt.Println(err) // "definition error [phase=design]: phase output is blank: output is blank"
type DefinitionError struct {
	baseError
	Phase string
	Field string
}

// NewDefinitionError creates a new DefinitionError.
func NewDefinitionError(message string, cause error) *DefinitionError {
	return &DefinitionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPhase adds the offending phase or role name to the error context.
func (e *DefinitionError) WithPhase(phase string) *DefinitionError {
	e.Phase = phase
	return e
}

// WithField adds the offending field name to the error context.
func (e *DefinitionError) WithField(field string) *DefinitionError {
	e.Field = field
	return e
}

// Error returns the formatted error message.
func (e *DefinitionError) Error() string {
	var parts []string
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	return e.format("definition error", parts)
}

// Is checks if this error matches the target.
func (e *DefinitionError) Is(target error) bool {
	if _, ok := target.(*DefinitionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkspaceError represents a failure to provision or release a workspace.
//
// Example:
//
//	err := errors.NewWorkspaceError("git worktree add failed", cause).WithPath("/repo/.foreman/worktrees/01J...")
type WorkspaceError struct {
	baseError
	PipelineID string
	Path       string
}

// NewWorkspaceError creates a new WorkspaceError.
func NewWorkspaceError(message string, cause error) *WorkspaceError {
	return &WorkspaceError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithPipelineID adds a pipeline ID to the error context.
func (e *WorkspaceError) WithPipelineID(id string) *WorkspaceError {
	e.PipelineID = id
	return e
}

// WithPath adds the workspace path to the error context.
func (e *WorkspaceError) WithPath(path string) *WorkspaceError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *WorkspaceError) Error() string {
	var parts []string
	if e.PipelineID != "" {
		parts = append(parts, fmt.Sprintf("pipeline=%s", e.PipelineID))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("workspace error", parts)
}

// Is checks if this error matches the target.
func (e *WorkspaceError) Is(target error) bool {
	if _, ok := target.(*WorkspaceError); ok {
		return true
	}
	if errors.Is(target, ErrWorkspaceUnavailable) {
		return true
	}
	return e.baseError.Is(target)
}

// ExecutorTransportError represents a failure in the spawn/await plumbing,
// as opposed to a worker that ran and reported failure. The engine folds it
// into a Failure outcome.
//
// Example:
//
//	err := errors.NewExecutorTransportError("pty start failed", cause).WithOwner("implementer").WithStage(2)
type ExecutorTransportError struct {
	baseError
	Owner      string
	StageIndex int
}

// NewExecutorTransportError creates a new ExecutorTransportError.
func NewExecutorTransportError(message string, cause error) *ExecutorTransportError {
	return &ExecutorTransportError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: false,
		},
		StageIndex: -1, // -1 indicates not set
	}
}

// WithOwner adds the worker identity to the error context.
func (e *ExecutorTransportError) WithOwner(owner string) *ExecutorTransportError {
	e.Owner = owner
	return e
}

// WithStage adds the stage index to the error context.
func (e *ExecutorTransportError) WithStage(idx int) *ExecutorTransportError {
	e.StageIndex = idx
	return e
}

// Error returns the formatted error message.
func (e *ExecutorTransportError) Error() string {
	var parts []string
	if e.Owner != "" {
		parts = append(parts, fmt.Sprintf("owner=%s", e.Owner))
	}
	if e.StageIndex >= 0 {
		parts = append(parts, fmt.Sprintf("stage=%d", e.StageIndex))
	}
	return e.format("executor error", parts)
}

// Is checks if this error matches the target.
func (e *ExecutorTransportError) Is(target error) bool {
	if _, ok := target.(*ExecutorTransportError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PipelineError represents an operator command rejected because of the
// pipeline's current status.
//
// Example:
//
//	err := errors.NewPipelineError("cannot resume", errors.ErrNotEscalated).WithPipelineID(id).WithStatus("running")
type PipelineError struct {
	baseError
	PipelineID string
	Status     string
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(message string, cause error) *PipelineError {
	return &PipelineError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithPipelineID adds a pipeline ID to the error context.
func (e *PipelineError) WithPipelineID(id string) *PipelineError {
	e.PipelineID = id
	return e
}

// WithStatus adds the pipeline status observed when the command was rejected.
func (e *PipelineError) WithStatus(status string) *PipelineError {
	e.Status = status
	return e
}

// Error returns the formatted error message.
func (e *PipelineError) Error() string {
	var parts []string
	if e.PipelineID != "" {
		parts = append(parts, fmt.Sprintf("pipeline=%s", e.PipelineID))
	}
	if e.Status != "" {
		parts = append(parts, fmt.Sprintf("status=%s", e.Status))
	}
	return e.format("pipeline error", parts)
}

// Is checks if this error matches the target.
func (e *PipelineError) Is(target error) bool {
	if _, ok := target.(*PipelineError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("pipeline", "01J...")
//	fmt.Println(err) // "pipeline '01J...' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("stage index out of range").WithField("stage_index").WithValue(9)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var foremanErr ForemanError
	if As(err, &foremanErr) {
		return foremanErr.IsRetryable()
	}
	return false
}

// IsUserFacing returns true if the error message is safe to display to operators.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var foremanErr ForemanError
	if As(err, &foremanErr) {
		return foremanErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ForemanError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var foremanErr ForemanError
	if As(err, &foremanErr) {
		return foremanErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
