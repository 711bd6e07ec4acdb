package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/foreman/internal/config"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/executor"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/store"
	"github.com/Iron-Ham/foreman/internal/worktree"
)

// shutdownTimeout bounds how long commands wait for in-flight stages to be
// canceled and workspaces released on exit.
const shutdownTimeout = 30 * time.Second

// orchestrator is the in-process object graph shared by run and serve.
type orchestrator struct {
	cfg     *config.Config
	logger  *logging.Logger
	lock    *store.Lock
	store   store.Backend
	bus     *event.Bus
	manager *pipeline.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger writes to foreman.log in the state directory.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(cfg.Pipeline.StateDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

func openStore(cfg *config.Config) (store.Backend, error) {
	s, err := store.Open(cfg.Store.Backend, cfg.Pipeline.StateDir, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return s, nil
}

func newExecutor(cfg *config.Config, logger *logging.Logger) (pipeline.Executor, error) {
	switch cfg.Executor.Backend {
	case "sentinel":
		return executor.NewSentinel(logger), nil
	default:
		return executor.NewProcess(executor.ProcessConfig{
			Command:     cfg.Executor.Command,
			Args:        cfg.Executor.Args,
			Env:         cfg.Executor.Env,
			VerdictFile: cfg.Executor.VerdictFile,
			LogDir:      cfg.Executor.LogDir,
			KillGrace:   cfg.Executor.KillGrace(),
		}, logger)
	}
}

func newProvisioner(cfg *config.Config, logger *logging.Logger) (pipeline.Provisioner, error) {
	pc := worktree.ProvisionerConfig{
		Root:          cfg.Workspace.Root,
		BranchPrefix:  cfg.Workspace.BranchPrefix,
		KeepOnRelease: cfg.Workspace.KeepOnRelease,
	}

	switch cfg.Workspace.Backend {
	case "directory":
		if pc.Root == "" {
			pc.Root = filepath.Join(cfg.Pipeline.StateDir, "workspaces")
		}
		return worktree.NewDirectoryProvisioner(pc, logger)
	default:
		repo := cfg.Workspace.Repo
		if repo == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to get current directory: %w", err)
			}
			repo = cwd
		}
		return worktree.NewWorktreeProvisioner(repo, pc, logger)
	}
}

// startOrchestrator takes the state directory lock and builds the manager.
// The caller must call close.
func startOrchestrator(cfg *config.Config) (*orchestrator, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	o := &orchestrator{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			o.close()
		}
	}()

	o.lock, err = store.AcquireLock(cfg.Pipeline.StateDir, logger)
	if err != nil {
		return nil, err
	}
	if o.store, err = openStore(cfg); err != nil {
		return nil, err
	}

	exec, err := newExecutor(cfg, logger)
	if err != nil {
		return nil, err
	}
	prov, err := newProvisioner(cfg, logger)
	if err != nil {
		return nil, err
	}

	o.bus = event.NewBus(logger)
	o.manager = pipeline.NewManager(o.store, exec, prov,
		pipeline.WithLogger(logger),
		pipeline.WithBus(o.bus),
		pipeline.WithResolveOptions(pipeline.ResolveOptions{
			Validator:   cfg.Pipeline.Validator,
			MaxAttempts: cfg.Pipeline.MaxAttempts,
		}),
	)

	ok = true
	return o, nil
}

// shutdown stops the manager. Pipelines still running stay Running in the
// store and are picked up by the next serve.
func (o *orchestrator) shutdown() {
	if o.manager == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.manager.Shutdown(ctx); err != nil {
		o.logger.Warn("shutdown incomplete", "error", err.Error())
	}
}

func (o *orchestrator) close() {
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			o.logger.Warn("failed to close store", "error", err.Error())
		}
	}
	if o.lock != nil {
		if err := o.lock.Release(); err != nil {
			o.logger.Warn("failed to release lock", "error", err.Error())
		}
	}
	_ = o.logger.Close()
}
