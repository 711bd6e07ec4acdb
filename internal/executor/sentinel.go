package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/prompt"
)

// Request is the document Sentinel writes for a worker to pick up.
type Request struct {
	HandleID       string             `json:"handle_id"`
	PipelineID     string             `json:"pipeline_id"`
	StageIndex     int                `json:"stage_index"`
	StageCount     int                `json:"stage_count"`
	Stage          string             `json:"stage"`
	Kind           pipeline.StageKind `json:"kind"`
	Owner          string             `json:"owner"`
	Attempt        int                `json:"attempt"`
	MaxAttempts    int                `json:"max_attempts"`
	ExpectedOutput string             `json:"expected_output"`
	PriorOutput    string             `json:"prior_output,omitempty"`
	RevisionPrompt string             `json:"revision_prompt,omitempty"`
	Findings       []string           `json:"findings,omitempty"`
	Prompt         string             `json:"prompt"`
	DoneFile       string             `json:"done_file"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Completion is the document a worker writes when it is finished. Verdict
// carries a validator's verdict object and becomes the raw payload.
type Completion struct {
	ExitStatus pipeline.ExitStatus `json:"exit_status"`
	OutputPath string              `json:"output_path,omitempty"`
	Verdict    json.RawMessage     `json:"verdict,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func (c Completion) outcome() pipeline.StageOutcome {
	o := pipeline.StageOutcome{
		ExitStatus: c.ExitStatus,
		OutputPath: c.OutputPath,
		Error:      c.Error,
	}
	if len(c.Verdict) > 0 {
		o.RawPayload = string(c.Verdict)
		// A verdict given as a JSON string is passed through unquoted.
		var s string
		if json.Unmarshal(c.Verdict, &s) == nil {
			o.RawPayload = s
		}
	}
	return o
}

// Sentinel hands stages to workers through request and completion files.
type Sentinel struct {
	prompts *prompt.Builder
	logger  *logging.Logger
	clock   func() time.Time
}

// NewSentinel creates a Sentinel executor.
func NewSentinel(logger *logging.Logger) *Sentinel {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sentinel{
		prompts: prompt.NewBuilder(""),
		logger:  logger.WithComponent("sentinel-executor"),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

type sentinelHandle struct {
	id         string
	donePath   string
	cancelPath string
	watcher    *fsnotify.Watcher
	log        *logging.Logger

	closeOnce sync.Once
}

func (h *sentinelHandle) ID() string { return h.id }

func (h *sentinelHandle) close() {
	h.closeOnce.Do(func() { _ = h.watcher.Close() })
}

// Wait blocks until the completion file appears and parses, or ctx is done.
// A completion file that is still being written fails to parse and is
// retried on the next write event.
func (h *sentinelHandle) Wait(ctx context.Context) (pipeline.StageOutcome, error) {
	defer h.close()

	if outcome, ok := h.tryRead(); ok {
		return outcome, nil
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.StageOutcome{}, ctx.Err()
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return pipeline.StageOutcome{}, errors.New("completion watcher closed")
			}
			if filepath.Clean(ev.Name) != h.donePath || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if outcome, ok := h.tryRead(); ok {
				return outcome, nil
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return pipeline.StageOutcome{}, errors.New("completion watcher closed")
			}
			h.log.Warn("completion watcher error", "error", err.Error())
		}
	}
}

func (h *sentinelHandle) tryRead() (pipeline.StageOutcome, bool) {
	data, err := os.ReadFile(h.donePath)
	if err != nil {
		return pipeline.StageOutcome{}, false
	}
	var c Completion
	if err := json.Unmarshal(data, &c); err != nil {
		return pipeline.StageOutcome{}, false
	}
	return c.outcome(), true
}

// Spawn writes the request file and starts watching for its completion.
func (s *Sentinel) Spawn(ctx context.Context, req pipeline.StageRequest) (pipeline.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := s.prompts.Build(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	key := stageKey(req)
	stateDir := filepath.Join(req.Workspace.Path, StateDirName)
	requestDir := filepath.Join(stateDir, "requests")
	doneDir := filepath.Join(stateDir, "done")
	for _, dir := range []string{requestDir, doneDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sentinel directory: %w", err)
		}
	}

	donePath := filepath.Clean(filepath.Join(doneDir, key+".json"))
	if err := os.Remove(donePath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear stale completion: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(doneDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", doneDir, err)
	}

	h := &sentinelHandle{
		id:         uuid.NewString(),
		donePath:   donePath,
		cancelPath: filepath.Join(requestDir, key+".cancel"),
		watcher:    watcher,
		log:        s.logger.WithPipeline(req.PipelineID).WithStage(req.StageIndex, req.Stage.Label()),
	}

	doc := Request{
		HandleID:       h.id,
		PipelineID:     req.PipelineID,
		StageIndex:     req.StageIndex,
		StageCount:     req.StageCount,
		Stage:          req.Stage.Name,
		Kind:           req.Stage.Kind,
		Owner:          req.Stage.Owner,
		Attempt:        req.Stage.Attempt,
		MaxAttempts:    req.Stage.MaxAttempts,
		ExpectedOutput: req.Stage.ExpectedOutput,
		PriorOutput:    req.PriorOutput,
		RevisionPrompt: req.RevisionPrompt,
		Findings:       req.Findings,
		Prompt:         text,
		DoneFile:       donePath,
		CreatedAt:      s.clock(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		h.close()
		return nil, fmt.Errorf("encode request: %w", err)
	}
	requestPath := filepath.Join(requestDir, key+".json")
	if err := writeFileAtomic(requestPath, data); err != nil {
		h.close()
		return nil, err
	}

	h.log.Info("stage request written", "handle", h.id, "request", requestPath, "done_file", donePath)
	return h, nil
}

// Cancel writes a cancel marker next to the request and stops watching.
func (s *Sentinel) Cancel(h pipeline.Handle) error {
	sh, ok := h.(*sentinelHandle)
	if !ok {
		return ErrNotOurHandle
	}
	sh.close()
	if err := os.WriteFile(sh.cancelPath, []byte(s.clock().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
