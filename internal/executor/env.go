package executor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// StateDirName is the directory inside a workspace that holds foreman's
// prompts, logs and sentinel files.
const StateDirName = ".foreman"

// Environment variables exported to every worker.
const (
	EnvPipelineID  = "FOREMAN_PIPELINE_ID"
	EnvStage       = "FOREMAN_STAGE"
	EnvStageIndex  = "FOREMAN_STAGE_INDEX"
	EnvStageKind   = "FOREMAN_STAGE_KIND"
	EnvOwner       = "FOREMAN_OWNER"
	EnvAttempt     = "FOREMAN_ATTEMPT"
	EnvMaxAttempts = "FOREMAN_MAX_ATTEMPTS"
	EnvOutput      = "FOREMAN_OUTPUT"
	EnvPriorOutput = "FOREMAN_PRIOR_OUTPUT"
	EnvPromptFile  = "FOREMAN_PROMPT_FILE"
	EnvVerdictFile = "FOREMAN_VERDICT_FILE"
	EnvWorkspace   = "FOREMAN_WORKSPACE"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// stageKey names the files that belong to one run of a stage. It is unique
// per stage index and attempt.
func stageKey(req pipeline.StageRequest) string {
	label := unsafeChars.ReplaceAllString(req.Stage.Label(), "-")
	return fmt.Sprintf("%02d-%s-%d", req.StageIndex, strings.Trim(label, "-"), req.Stage.Attempt)
}

// workerEnv returns the FOREMAN_* variables for req.
func workerEnv(req pipeline.StageRequest, promptFile, verdictFile string) []string {
	env := []string{
		EnvPipelineID + "=" + req.PipelineID,
		EnvStage + "=" + req.Stage.Name,
		EnvStageIndex + "=" + strconv.Itoa(req.StageIndex),
		EnvStageKind + "=" + string(req.Stage.Kind),
		EnvOwner + "=" + req.Stage.Owner,
		EnvAttempt + "=" + strconv.Itoa(req.Stage.Attempt),
		EnvMaxAttempts + "=" + strconv.Itoa(req.Stage.MaxAttempts),
		EnvOutput + "=" + req.Stage.ExpectedOutput,
		EnvPriorOutput + "=" + req.PriorOutput,
		EnvPromptFile + "=" + promptFile,
		EnvWorkspace + "=" + req.Workspace.Path,
	}
	if req.Stage.Kind == pipeline.StageValidation {
		env = append(env, EnvVerdictFile+"="+verdictFile)
	}
	return env
}

// inWorkspace resolves a workspace-relative path.
func inWorkspace(ws pipeline.Workspace, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ws.Path, path)
}

// expandArgs substitutes {placeholders} in configured arguments.
func expandArgs(args []string, req pipeline.StageRequest, promptFile string) []string {
	r := strings.NewReplacer(
		"{pipeline}", req.PipelineID,
		"{stage}", req.Stage.Name,
		"{kind}", string(req.Stage.Kind),
		"{owner}", req.Stage.Owner,
		"{attempt}", strconv.Itoa(req.Stage.Attempt),
		"{output}", req.Stage.ExpectedOutput,
		"{prompt_file}", promptFile,
		"{workspace}", req.Workspace.Path,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
