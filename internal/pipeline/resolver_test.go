package pipeline

import (
	"reflect"
	"testing"

	"github.com/Iron-Ham/foreman/internal/errors"
)

func threePhases() Definition {
	return Definition{
		Phases: []Phase{
			{Name: "research", Owner: "researcher", Output: "r.md"},
			{Name: "design", Owner: "architect", Output: "d.md"},
			{Name: "implement", Owner: "engineer", Output: "i.md"},
		},
	}
}

func TestResolve_Phases(t *testing.T) {
	stages, err := Resolve(threePhases(), ResolveOptions{Validator: "qa", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(stages) != 6 {
		t.Fatalf("got %d stages, want 6", len(stages))
	}

	want := []struct {
		name  string
		kind  StageKind
		owner string
		out   string
	}{
		{"research", StageExecution, "researcher", "r.md"},
		{"research", StageValidation, "qa", "r.md"},
		{"design", StageExecution, "architect", "d.md"},
		{"design", StageValidation, "qa", "d.md"},
		{"implement", StageExecution, "engineer", "i.md"},
		{"implement", StageValidation, "qa", "i.md"},
	}
	for i, w := range want {
		s := stages[i]
		if s.Name != w.name || s.Kind != w.kind || s.Owner != w.owner || s.ExpectedOutput != w.out {
			t.Errorf("stage %d = %+v, want %+v", i, s, w)
		}
		if s.MaxAttempts != 2 {
			t.Errorf("stage %d MaxAttempts = %d, want 2", i, s.MaxAttempts)
		}
		if s.Attempt != 0 || s.Result != nil {
			t.Errorf("stage %d should start pristine, got attempt=%d result=%v", i, s.Attempt, s.Result)
		}
	}
}

func TestResolve_Roles(t *testing.T) {
	def := Definition{
		Template: "custom",
		Roles: []Role{
			{Name: "plan", Output: "plan.md"},
			{Name: "build", Owner: "builder", Output: "build.log", Review: true},
			{Name: "ship", Owner: "shipper", Output: "release.md"},
		},
	}

	stages, err := Resolve(def, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got := make([]string, len(stages))
	for i, s := range stages {
		got[i] = s.Label() + "@" + s.Owner
	}
	want := []string{
		"plan@plan",
		"build@builder",
		"build/validate@" + DefaultValidator,
		"ship@shipper",
		"ship/validate@" + DefaultValidator,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	for _, s := range stages {
		if s.MaxAttempts != DefaultMaxAttempts {
			t.Errorf("%s MaxAttempts = %d, want %d", s.Label(), s.MaxAttempts, DefaultMaxAttempts)
		}
	}
}

func TestResolve_MaxAttemptsPrecedence(t *testing.T) {
	def := Definition{
		MaxAttempts: 4,
		Validator:   "lead",
		Phases: []Phase{
			{Name: "a", Owner: "x", Output: "a.md"},
			{Name: "b", Owner: "y", Output: "b.md", MaxAttempts: 1, Validator: "senior"},
		},
	}

	stages, err := Resolve(def, ResolveOptions{Validator: "qa", MaxAttempts: 9})
	if err != nil {
		t.Fatal(err)
	}
	if stages[0].MaxAttempts != 4 || stages[1].Owner != "lead" {
		t.Errorf("definition-level values not applied: %+v %+v", stages[0], stages[1])
	}
	if stages[2].MaxAttempts != 1 || stages[3].MaxAttempts != 1 || stages[3].Owner != "senior" {
		t.Errorf("phase-level overrides not applied: %+v %+v", stages[2], stages[3])
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		def      Definition
		sentinel error
	}{
		{"empty", Definition{}, errors.ErrEmptyDefinition},
		{"unknown template", Definition{Template: "nope"}, errors.ErrUnknownTemplate},
		{
			"blank output",
			Definition{Phases: []Phase{{Name: "a", Owner: "o", Output: "  "}}},
			errors.ErrBlankOutput,
		},
		{
			"duplicate phase",
			Definition{Phases: []Phase{
				{Name: "a", Owner: "o", Output: "a.md"},
				{Name: "a", Owner: "o", Output: "b.md"},
			}},
			errors.ErrDuplicatePhase,
		},
		{
			"duplicate role",
			Definition{Roles: []Role{{Name: "r", Output: "1"}, {Name: "r", Output: "2"}}},
			errors.ErrDuplicatePhase,
		},
		{
			"mixed shapes",
			Definition{
				Roles:  []Role{{Name: "r", Output: "1"}},
				Phases: []Phase{{Name: "p", Owner: "o", Output: "2"}},
			},
			errors.ErrAmbiguousDefinition,
		},
		{
			"blank name",
			Definition{Phases: []Phase{{Owner: "o", Output: "a.md"}}},
			errors.ErrInvalidInput,
		},
		{
			"blank phase owner",
			Definition{Phases: []Phase{{Name: "a", Output: "a.md"}}},
			errors.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := Resolve(tt.def, ResolveOptions{})
			if err == nil {
				t.Fatalf("Resolve() = %v, want error", stages)
			}
			var defErr *errors.DefinitionError
			if !errors.As(err, &defErr) {
				t.Errorf("error %v is not a DefinitionError", err)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v does not match %v", err, tt.sentinel)
			}
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	a, err := Resolve(threePhases(), ResolveOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Resolve(threePhases(), ResolveOptions{})
	if !reflect.DeepEqual(a, b) {
		t.Error("Resolve is not deterministic")
	}
}
