package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Iron-Ham/foreman/internal/errors"
)

// VerdictKind is a validator's judgment of an execution stage's artifact.
type VerdictKind string

const (
	VerdictComplete VerdictKind = "complete"
	VerdictRevision VerdictKind = "revision"
	VerdictFailed   VerdictKind = "failed"
)

// Reasons synthesized by the interpreter.
const (
	ReasonUnparseable     = "unparseable verdict payload"
	ReasonValidatorFailed = "validator execution failed"
	ReasonMissingPrompt   = "revision verdict without revision_prompt"
)

// Verdict is the parsed judgment of a validation stage.
type Verdict struct {
	Kind           VerdictKind `json:"kind"`
	Reason         string      `json:"reason,omitempty"`
	Findings       []string    `json:"findings,omitempty"`
	RevisionPrompt string      `json:"revision_prompt,omitempty"`
}

func (v Verdict) clone() Verdict {
	v.Findings = slices.Clone(v.Findings)
	return v
}

// verdictPayload is the wire shape validators write. Kind is a pointer so
// that a missing key is distinguishable from an empty one.
type verdictPayload struct {
	Kind           *string  `json:"kind"`
	Reason         string   `json:"reason"`
	Findings       []string `json:"findings"`
	RevisionPrompt string   `json:"revision_prompt"`
}

// Interpret turns a validation stage's outcome into a Verdict.
//
// A Failure outcome yields Failed without looking at the payload. A payload
// that cannot be parsed, lacks a kind, or names an unknown kind yields
// Failed with ReasonUnparseable. Interpret never returns Complete unless the
// payload explicitly says so.
func Interpret(stage Stage, outcome StageOutcome) Verdict {
	if !outcome.Succeeded() {
		return Verdict{Kind: VerdictFailed, Reason: ReasonValidatorFailed}
	}
	v, err := ParseVerdict(stage, outcome.RawPayload)
	if err != nil {
		return Verdict{Kind: VerdictFailed, Reason: ReasonUnparseable}
	}
	return v
}

// ParseVerdict decodes a validator payload. Payloads Interpret would treat
// as unparseable return an error wrapping ErrUnparseableVerdict.
func ParseVerdict(stage Stage, raw string) (Verdict, error) {
	var payload verdictPayload
	if err := json.Unmarshal(sanitizePayload(raw), &payload); err != nil {
		return Verdict{}, fmt.Errorf("%w: %w", errors.ErrUnparseableVerdict, err)
	}
	if payload.Kind == nil {
		return Verdict{}, fmt.Errorf("%w: missing kind", errors.ErrUnparseableVerdict)
	}

	v := Verdict{
		Reason:         strings.TrimSpace(payload.Reason),
		Findings:       nonEmpty(payload.Findings),
		RevisionPrompt: strings.TrimSpace(payload.RevisionPrompt),
	}

	switch kind := strings.ToLower(strings.TrimSpace(*payload.Kind)); VerdictKind(kind) {
	case VerdictComplete:
		v.Kind = VerdictComplete
	case VerdictRevision:
		v.Kind = VerdictRevision
		if v.RevisionPrompt == "" {
			v.Kind = VerdictFailed
			v.Reason = ReasonMissingPrompt
		}
	case VerdictFailed:
		v.Kind = VerdictFailed
		if v.Reason == "" {
			v.Reason = "validator rejected " + stage.ExpectedOutput
		}
	default:
		return Verdict{}, fmt.Errorf("%w: unknown kind %q", errors.ErrUnparseableVerdict, kind)
	}
	return v, nil
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")

var quoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"‘", `'`, "’", `'`, "‚", `'`, "‛", `'`,
	"＂", `"`,
)

// sanitizePayload undoes the usual ways an agent mangles a JSON document:
// typographic quotes, a surrounding markdown fence, and prose around the
// object.
func sanitizePayload(raw string) []byte {
	content := quoteReplacer.Replace(raw)

	if m := codeFence.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start > 0 {
		content = content[start:]
	}
	if end := strings.LastIndex(content, "}"); end >= 0 && end < len(content)-1 {
		content = content[:end+1]
	}
	return []byte(strings.TrimSpace(content))
}

func nonEmpty(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
