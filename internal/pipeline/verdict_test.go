package pipeline

import (
	"reflect"
	"testing"

	"github.com/Iron-Ham/foreman/internal/errors"
)

func TestInterpret(t *testing.T) {
	stage := Stage{Name: "design", Kind: StageValidation, ExpectedOutput: "d.md"}

	tests := []struct {
		name    string
		outcome StageOutcome
		want    Verdict
	}{
		{
			name:    "validator crashed",
			outcome: StageOutcome{ExitStatus: ExitFailure, RawPayload: `{"kind":"complete"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonValidatorFailed},
		},
		{
			name:    "complete",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"complete","reason":"looks good"}`},
			want:    Verdict{Kind: VerdictComplete, Reason: "looks good"},
		},
		{
			name: "revision",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"revision","reason":"thin",` +
				`"findings":["no sources"," ",""],"revision_prompt":"add citations"}`},
			want: Verdict{Kind: VerdictRevision, Reason: "thin", Findings: []string{"no sources"}, RevisionPrompt: "add citations"},
		},
		{
			name:    "revision without prompt",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"revision"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonMissingPrompt},
		},
		{
			name:    "failed keeps reason",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"failed","reason":"wrong approach"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: "wrong approach"},
		},
		{
			name:    "failed without reason",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"failed"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: "validator rejected d.md"},
		},
		{
			name:    "case insensitive kind",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":" Complete "}`},
			want:    Verdict{Kind: VerdictComplete},
		},
		{
			name:    "missing kind",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"reason":"ok"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonUnparseable},
		},
		{
			name:    "unknown kind",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"approved"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonUnparseable},
		},
		{
			name:    "not json",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: "LGTM!"},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonUnparseable},
		},
		{
			name:    "empty payload",
			outcome: StageOutcome{ExitStatus: ExitSuccess},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonUnparseable},
		},
		{
			name:    "wrong field type",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `{"kind":"complete","findings":"x"}`},
			want:    Verdict{Kind: VerdictFailed, Reason: ReasonUnparseable},
		},
		{
			name: "fenced with prose and smart quotes",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: "Here is my verdict:\n```json\n" +
				"{“kind”: “complete”}\n```\nThanks."},
			want: Verdict{Kind: VerdictComplete},
		},
		{
			name:    "surrounding text without fence",
			outcome: StageOutcome{ExitStatus: ExitSuccess, RawPayload: `Verdict: {"kind":"complete"} done`},
			want:    Verdict{Kind: VerdictComplete},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpret(stage, tt.outcome)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Interpret() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInterpret_NeverSilentlyComplete(t *testing.T) {
	payloads := []string{
		"", "{", "}", "null", "[]", `{"kind":null}`, `{"kind":""}`, `{"kind":1}`,
		"```json\n```", `{"kind":"done"}x{`, "complete",
	}
	for _, raw := range payloads {
		v := Interpret(Stage{Kind: StageValidation}, StageOutcome{ExitStatus: ExitSuccess, RawPayload: raw})
		if v.Kind == VerdictComplete {
			t.Errorf("payload %q produced Complete", raw)
		}
	}
}

func TestParseVerdict_Unparseable(t *testing.T) {
	stage := Stage{Name: "design", Kind: StageValidation, ExpectedOutput: "d.md"}

	for _, raw := range []string{"", "not json", `{"reason":"no kind"}`, `{"kind":"maybe"}`} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseVerdict(stage, raw)
			if !errors.Is(err, errors.ErrUnparseableVerdict) {
				t.Errorf("ParseVerdict(%q) error = %v, want ErrUnparseableVerdict", raw, err)
			}
		})
	}

	v, err := ParseVerdict(stage, "```json\n{\"kind\":\"complete\"}\n```")
	if err != nil || v.Kind != VerdictComplete {
		t.Errorf("fenced payload = %+v, %v", v, err)
	}
}
