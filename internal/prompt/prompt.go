// Package prompt builds the instructions handed to a worker for one stage.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// VerdictFileName is the default file a validator writes its verdict to,
// relative to the workspace root.
const VerdictFileName = ".foreman-verdict.json"

var (
	// ErrMissingStage is returned when a request has no stage name or owner.
	ErrMissingStage = errors.New("stage name and owner are required")
	// ErrMissingOutput is returned when a request has no expected output.
	ErrMissingOutput = errors.New("expected output is required")
)

// Builder renders stage prompts.
type Builder struct {
	verdictFile string
}

// NewBuilder creates a Builder. An empty verdictFile selects VerdictFileName.
func NewBuilder(verdictFile string) *Builder {
	if verdictFile == "" {
		verdictFile = VerdictFileName
	}
	return &Builder{verdictFile: verdictFile}
}

// VerdictFile returns the verdict file name validators are told to write.
func (b *Builder) VerdictFile() string {
	return b.verdictFile
}

// Build renders the prompt for req.
func (b *Builder) Build(req pipeline.StageRequest) (string, error) {
	if req.Stage.Name == "" || req.Stage.Owner == "" {
		return "", ErrMissingStage
	}
	if strings.TrimSpace(req.Stage.ExpectedOutput) == "" {
		return "", ErrMissingOutput
	}

	var sb strings.Builder
	if req.Stage.Kind == pipeline.StageValidation {
		b.writeValidation(&sb, req)
	} else {
		b.writeExecution(&sb, req)
	}
	return sb.String(), nil
}

func (b *Builder) writeExecution(sb *strings.Builder, req pipeline.StageRequest) {
	fmt.Fprintf(sb, "# Stage: %s (%d of %d)\n\n", req.Stage.Name, req.StageIndex+1, req.StageCount)
	writeHeader(sb, req)

	fmt.Fprintf(sb, "## Your Role\n\nYou are acting as **%s**.\n\n", req.Stage.Owner)
	sb.WriteString("## Deliverable\n\n")
	fmt.Fprintf(sb, "Produce `%s` in the workspace root. The stage is not finished until this file exists.\n\n", req.Stage.ExpectedOutput)

	if req.PriorOutput != "" {
		sb.WriteString("## Input\n\n")
		fmt.Fprintf(sb, "Build on the output of the previous stage: `%s`.\n\n", req.PriorOutput)
	}

	if req.RevisionPrompt != "" || len(req.Findings) > 0 {
		fmt.Fprintf(sb, "## Revision Requested (attempt %d of %d)\n\n", req.Stage.Attempt, req.Stage.MaxAttempts)
		sb.WriteString("A reviewer rejected the previous attempt. Address this before anything else:\n\n")
		if req.RevisionPrompt != "" {
			fmt.Fprintf(sb, "%s\n\n", req.RevisionPrompt)
		}
		writeFindings(sb, req.Findings)
	}

	sb.WriteString("## Guidelines\n\n")
	sb.WriteString("- Stay within the scope of this stage\n")
	sb.WriteString("- Overwrite the deliverable rather than appending to a previous attempt\n")
	sb.WriteString("- Exit with a non-zero status if you cannot produce the deliverable\n")
}

func (b *Builder) writeValidation(sb *strings.Builder, req pipeline.StageRequest) {
	target := req.PriorOutput
	if target == "" {
		target = req.Stage.ExpectedOutput
	}

	fmt.Fprintf(sb, "# Review: %s (%d of %d)\n\n", req.Stage.Name, req.StageIndex+1, req.StageCount)
	writeHeader(sb, req)

	fmt.Fprintf(sb, "## Your Role\n\nYou are acting as **%s**, reviewing the work of the previous stage.\n\n", req.Stage.Owner)
	sb.WriteString("## What to Review\n\n")
	fmt.Fprintf(sb, "Judge `%s` (attempt %d of %d). Do not modify it.\n\n", target, req.Stage.Attempt, req.Stage.MaxAttempts)

	sb.WriteString("## Verdict Protocol - FINAL MANDATORY STEP\n\n")
	fmt.Fprintf(sb, "Write `%s` in the workspace root containing exactly one JSON object:\n\n", b.verdictFile)
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"kind\": \"complete | revision | failed\",\n")
	sb.WriteString("  \"reason\": \"One sentence explaining the verdict\",\n")
	sb.WriteString("  \"findings\": [\"Specific problems found\"],\n")
	sb.WriteString("  \"revision_prompt\": \"Instructions for the next attempt (required for revision)\"\n")
	sb.WriteString("}\n")
	sb.WriteString("```\n\n")
	sb.WriteString("- `complete`: the work is acceptable as is\n")
	sb.WriteString("- `revision`: the work can be fixed; say exactly what to change in `revision_prompt`\n")
	sb.WriteString("- `failed`: the approach is wrong and needs a human\n\n")
	sb.WriteString("A missing or malformed verdict file is treated as a failed review.\n")
}

func writeHeader(sb *strings.Builder, req pipeline.StageRequest) {
	if req.Label != "" {
		fmt.Fprintf(sb, "Pipeline: %s\n", req.Label)
	}
	if req.Project != "" {
		fmt.Fprintf(sb, "Project: %s\n", req.Project)
	}
	if req.Label != "" || req.Project != "" {
		sb.WriteString("\n")
	}
}

func writeFindings(sb *strings.Builder, findings []string) {
	if len(findings) == 0 {
		return
	}
	sb.WriteString("Reviewer findings:\n")
	for _, f := range findings {
		fmt.Fprintf(sb, "- %s\n", f)
	}
	sb.WriteString("\n")
}
