package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/prompt"
)

// ErrNotOurHandle is returned by Cancel for handles created elsewhere.
var ErrNotOurHandle = errors.New("handle was not created by this executor")

// ProcessConfig configures a Process executor.
type ProcessConfig struct {
	// Command is the worker executable. Args may contain the placeholders
	// {pipeline}, {stage}, {kind}, {owner}, {attempt}, {output},
	// {prompt_file} and {workspace}.
	Command string
	Args    []string
	// Env is appended to the inherited environment and the FOREMAN_* variables.
	Env []string
	// VerdictFile is where validators write their verdict, relative to the
	// workspace root.
	VerdictFile string
	// LogDir receives one output log per run. Empty means
	// <workspace>/.foreman/logs.
	LogDir string
	// KillGrace is how long Cancel waits after SIGTERM before SIGKILL.
	KillGrace time.Duration
}

// Process runs each stage as a child process on a pseudo-terminal.
type Process struct {
	cfg     ProcessConfig
	prompts *prompt.Builder
	logger  *logging.Logger
}

// NewProcess creates a Process executor.
func NewProcess(cfg ProcessConfig, logger *logging.Logger) (*Process, error) {
	if cfg.Command == "" {
		return nil, errors.New("executor command is required")
	}
	if cfg.VerdictFile == "" {
		cfg.VerdictFile = prompt.VerdictFileName
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Process{
		cfg:     cfg,
		prompts: prompt.NewBuilder(cfg.VerdictFile),
		logger:  logger.WithComponent("process-executor"),
	}, nil
}

type processHandle struct {
	id      string
	cmd     *exec.Cmd
	logPath string
	grace   time.Duration

	done    chan struct{}
	outcome pipeline.StageOutcome

	cancelOnce sync.Once
}

func (h *processHandle) ID() string { return h.id }

// Wait blocks until the process exits or ctx is done.
func (h *processHandle) Wait(ctx context.Context) (pipeline.StageOutcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return pipeline.StageOutcome{}, ctx.Err()
	}
}

// Spawn writes the stage prompt into the workspace and starts the worker.
func (p *Process) Spawn(ctx context.Context, req pipeline.StageRequest) (pipeline.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := p.prompts.Build(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	key := stageKey(req)
	stateDir := filepath.Join(req.Workspace.Path, StateDirName)
	promptFile := filepath.Join(stateDir, "prompts", key+".md")
	if err := os.MkdirAll(filepath.Dir(promptFile), 0755); err != nil {
		return nil, fmt.Errorf("create prompt directory: %w", err)
	}
	if err := os.WriteFile(promptFile, []byte(text), 0644); err != nil {
		return nil, fmt.Errorf("write prompt: %w", err)
	}

	verdictPath := inWorkspace(req.Workspace, p.cfg.VerdictFile)
	if req.Stage.Kind == pipeline.StageValidation {
		// A verdict left over from an earlier attempt must not be mistaken
		// for this one.
		if err := os.Remove(verdictPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("clear stale verdict: %w", err)
		}
	}

	logDir := p.cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(stateDir, "logs")
	} else {
		logDir = filepath.Join(logDir, req.PipelineID)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logPath := filepath.Join(logDir, key+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	cmd := exec.Command(p.cfg.Command, expandArgs(p.cfg.Args, req, promptFile)...)
	cmd.Dir = req.Workspace.Path
	cmd.Env = append(os.Environ(), workerEnv(req, promptFile, verdictPath)...)
	cmd.Env = append(cmd.Env, p.cfg.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 30, Cols: 200})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	h := &processHandle{
		id:      uuid.NewString(),
		cmd:     cmd,
		logPath: logPath,
		grace:   p.cfg.KillGrace,
		done:    make(chan struct{}),
	}
	log := p.logger.WithPipeline(req.PipelineID).WithStage(req.StageIndex, req.Stage.Label())
	log.Info("worker started", "handle", h.id, "pid", cmd.Process.Pid, "log", logPath)

	go p.supervise(h, req, ptmx, logFile, verdictPath, log)
	return h, nil
}

// supervise copies worker output to the log until the process exits, then
// computes the outcome.
func (p *Process) supervise(h *processHandle, req pipeline.StageRequest, ptmx *os.File, logFile *os.File, verdictPath string, log *logging.Logger) {
	copied := make(chan struct{})
	go func() {
		// Reading the pty fails with EIO once the child side closes.
		_, _ = io.Copy(logFile, ptmx)
		close(copied)
	}()

	waitErr := h.cmd.Wait()
	_ = ptmx.Close()
	<-copied
	_ = logFile.Close()

	h.outcome = p.outcomeFor(req, waitErr, verdictPath)
	log.Info("worker exited", "handle", h.id, "exit_status", string(h.outcome.ExitStatus), "error", h.outcome.Error)
	close(h.done)
}

func (p *Process) outcomeFor(req pipeline.StageRequest, waitErr error, verdictPath string) pipeline.StageOutcome {
	if waitErr != nil {
		return pipeline.StageOutcome{ExitStatus: pipeline.ExitFailure, Error: waitErr.Error()}
	}

	if req.Stage.Kind == pipeline.StageValidation {
		data, err := os.ReadFile(verdictPath)
		if err != nil {
			return pipeline.StageOutcome{ExitStatus: pipeline.ExitFailure, Error: "verdict file not written: " + p.cfg.VerdictFile}
		}
		return pipeline.StageOutcome{ExitStatus: pipeline.ExitSuccess, OutputPath: req.PriorOutput, RawPayload: string(data)}
	}

	if _, err := os.Stat(inWorkspace(req.Workspace, req.Stage.ExpectedOutput)); err != nil {
		return pipeline.StageOutcome{ExitStatus: pipeline.ExitFailure, Error: "expected output not produced: " + req.Stage.ExpectedOutput}
	}
	return pipeline.StageOutcome{ExitStatus: pipeline.ExitSuccess, OutputPath: req.Stage.ExpectedOutput}
}

// Cancel sends SIGTERM to the worker and SIGKILL after the grace period if
// it is still running. It does not wait.
func (p *Process) Cancel(h pipeline.Handle) error {
	ph, ok := h.(*processHandle)
	if !ok {
		return ErrNotOurHandle
	}
	ph.cancelOnce.Do(func() {
		if ph.cmd.Process == nil {
			return
		}
		_ = ph.cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			select {
			case <-ph.done:
			case <-time.After(ph.grace):
				_ = ph.cmd.Process.Kill()
			}
		}()
	})
	return nil
}
