package pipeline

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/logging"
)

// StageRequest is everything an executor needs to run one stage.
type StageRequest struct {
	PipelineID string
	Project    string
	Label      string
	StageIndex int
	StageCount int
	Stage      Stage
	Workspace  Workspace

	// PriorOutput is the artifact this stage builds on or judges.
	PriorOutput string
	// RevisionPrompt and Findings are set when an execution stage is re-run
	// after a Revision verdict.
	RevisionPrompt string
	Findings       []string

	// seq identifies the dispatch this request belongs to. Outcomes from an
	// older dispatch are discarded.
	seq uint64
}

// Handle is a running worker.
type Handle interface {
	// ID identifies the worker for logging and cancellation.
	ID() string
	// Wait blocks until the worker finishes or ctx is done. The returned
	// error reports transport failures only; a worker that ran and failed
	// returns a Failure outcome and a nil error.
	Wait(ctx context.Context) (StageOutcome, error)
}

// Executor starts workers for stages.
type Executor interface {
	Spawn(ctx context.Context, req StageRequest) (Handle, error)
	// Cancel asks a worker to stop. It is best-effort and must not block
	// on the worker acknowledging.
	Cancel(h Handle) error
}

// Provisioner allocates one isolated workspace per pipeline.
type Provisioner interface {
	Provision(ctx context.Context, pipelineID string) (Workspace, error)
	Release(ctx context.Context, ws Workspace) error
}

// Recorder receives the runner's lifecycle notifications. StageStarted
// returning an error means the dispatch is no longer current and the worker
// must not be spawned.
type Recorder interface {
	StageStarted(req StageRequest) error
	StageFinished(req StageRequest, outcome StageOutcome)
}

// Runner executes one stage through an Executor and normalizes the result.
type Runner struct {
	exec   Executor
	logger *logging.Logger
}

// NewRunner creates a Runner.
func NewRunner(exec Executor, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{exec: exec, logger: logger}
}

// Run notifies rec that the stage started, spawns the worker, waits for
// it, and reports the outcome. It blocks until the outcome is known or ctx
// is canceled; after cancellation the outcome is still reported and the
// recorder is expected to discard it.
func (r *Runner) Run(ctx context.Context, req StageRequest, rec Recorder) (StageOutcome, bool) {
	log := r.logger.WithPipeline(req.PipelineID).WithStage(req.StageIndex, req.Stage.Label())

	if err := rec.StageStarted(req); err != nil {
		log.Debug("dispatch superseded before spawn", "error", err.Error())
		return StageOutcome{}, false
	}

	outcome := r.execute(ctx, req, log)
	log.Info("stage finished", "exit_status", string(outcome.ExitStatus), "output", outcome.OutputPath)
	rec.StageFinished(req, outcome)
	return outcome, true
}

// execute folds every transport failure into a Failure outcome so that the
// transition engine sees a single failure path.
func (r *Runner) execute(ctx context.Context, req StageRequest, log *logging.Logger) StageOutcome {
	handle, err := r.exec.Spawn(ctx, req)
	if err != nil {
		terr := transportError("spawn failed", errors.ErrSpawnFailed, err, req)
		log.Warn("worker failed to start", "error", terr.Error(), "retryable", errors.IsRetryable(terr))
		return FailureOutcome(terr)
	}
	log.Info("worker spawned", "handle", handle.ID(), "owner", req.Stage.Owner, "attempt", req.Stage.Attempt)

	outcome, err := handle.Wait(ctx)
	if ctx.Err() != nil {
		if cerr := r.exec.Cancel(handle); cerr != nil {
			log.Debug("cancel after context done", "handle", handle.ID(), "error", cerr.Error())
		}
		return FailureOutcome(errors.Wrap(errors.ErrCanceled, "stage canceled"))
	}
	if err != nil {
		terr := transportError("await failed", errors.ErrHandleLost, err, req)
		log.Warn("lost track of worker", "handle", handle.ID(), "error", terr.Error(), "retryable", errors.IsRetryable(terr))
		return FailureOutcome(terr)
	}
	if outcome.ExitStatus != ExitSuccess && outcome.ExitStatus != ExitFailure {
		outcome.ExitStatus = ExitFailure
	}
	return outcome
}

// transportError tags an executor failure with kind so callers can tell a
// worker that never started from one that was lost.
func transportError(message string, kind, err error, req StageRequest) *errors.ExecutorTransportError {
	return errors.NewExecutorTransportError(message, fmt.Errorf("%w: %w", kind, err)).
		WithOwner(req.Stage.Owner).WithStage(req.StageIndex)
}
