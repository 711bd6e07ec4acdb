package pipeline

import (
	"strings"

	"github.com/Iron-Ham/foreman/internal/errors"
)

// DefaultMaxAttempts bounds revision loops when neither the definition nor
// the configuration sets a value.
const DefaultMaxAttempts = 3

// DefaultValidator is the owner of validation stages when none is configured.
const DefaultValidator = "validator"

// Definition describes a pipeline before it is flattened into stages.
// Exactly one of Roles (fixed template) or Phases must be populated.
type Definition struct {
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Project string `json:"project,omitempty" yaml:"project,omitempty"`

	// Validator owns every validation stage unless a phase overrides it.
	Validator string `json:"validator,omitempty" yaml:"validator,omitempty"`
	// MaxAttempts applies to every stage unless a phase or role overrides it.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// Template names the template the roles came from. Informational once
	// Roles is filled in.
	Template string  `json:"template,omitempty" yaml:"template,omitempty"`
	Roles    []Role  `json:"roles,omitempty" yaml:"roles,omitempty"`
	Phases   []Phase `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// Role is one fixed-template execution role.
type Role struct {
	Name        string `json:"name" yaml:"name"`
	Owner       string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Output      string `json:"output" yaml:"output"`
	Review      bool   `json:"review,omitempty" yaml:"review,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// Phase expands into an execution stage followed by a validation stage.
type Phase struct {
	Name        string `json:"name" yaml:"name"`
	Owner       string `json:"owner" yaml:"owner"`
	Output      string `json:"output" yaml:"output"`
	Validator   string `json:"validator,omitempty" yaml:"validator,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

// ResolveOptions carries the configured fallbacks used when a definition
// leaves a policy value unset.
type ResolveOptions struct {
	Validator   string
	MaxAttempts int
}

func (o ResolveOptions) withDefaults(def Definition) ResolveOptions {
	if def.Validator != "" {
		o.Validator = def.Validator
	}
	if def.MaxAttempts > 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.Validator == "" {
		o.Validator = DefaultValidator
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Resolve flattens def into the ordered stage sequence a pipeline runs.
//
// Template roles each become one execution stage, followed by a validation
// stage when the role asks for review. The last role is always reviewed.
// Each phase becomes an execution stage followed by a validation stage.
//
// Resolve is pure: the same definition and options always yield the same
// stages.
func Resolve(def Definition, opts ResolveOptions) ([]Stage, error) {
	opts = opts.withDefaults(def)

	switch {
	case len(def.Roles) > 0 && len(def.Phases) > 0:
		return nil, errors.NewDefinitionError("definition mixes template roles and phases", errors.ErrAmbiguousDefinition)
	case len(def.Roles) > 0:
		return resolveRoles(def.Roles, opts)
	case len(def.Phases) > 0:
		return resolvePhases(def.Phases, opts)
	case def.Template != "":
		return nil, errors.NewDefinitionError("template has no roles", errors.ErrUnknownTemplate).WithField("template")
	default:
		return nil, errors.NewDefinitionError("nothing to run", errors.ErrEmptyDefinition)
	}
}

func resolveRoles(roles []Role, opts ResolveOptions) ([]Stage, error) {
	seen := make(map[string]bool, len(roles))
	stages := make([]Stage, 0, len(roles)*2)

	for i, role := range roles {
		name := strings.TrimSpace(role.Name)
		if err := checkUnit(name, role.Output, seen); err != nil {
			return nil, err
		}
		owner := strings.TrimSpace(role.Owner)
		if owner == "" {
			owner = name
		}
		maxAttempts := pick(role.MaxAttempts, opts.MaxAttempts)

		stages = append(stages, Stage{
			Name:           name,
			Kind:           StageExecution,
			Owner:          owner,
			ExpectedOutput: role.Output,
			MaxAttempts:    maxAttempts,
		})
		if role.Review || i == len(roles)-1 {
			stages = append(stages, Stage{
				Name:           name,
				Kind:           StageValidation,
				Owner:          opts.Validator,
				ExpectedOutput: role.Output,
				MaxAttempts:    maxAttempts,
			})
		}
	}
	return stages, nil
}

func resolvePhases(phases []Phase, opts ResolveOptions) ([]Stage, error) {
	seen := make(map[string]bool, len(phases))
	stages := make([]Stage, 0, len(phases)*2)

	for _, phase := range phases {
		name := strings.TrimSpace(phase.Name)
		if err := checkUnit(name, phase.Output, seen); err != nil {
			return nil, err
		}
		owner := strings.TrimSpace(phase.Owner)
		if owner == "" {
			return nil, errors.NewDefinitionError("phase owner is blank", errors.ErrInvalidInput).
				WithPhase(name).WithField("owner")
		}
		validator := strings.TrimSpace(phase.Validator)
		if validator == "" {
			validator = opts.Validator
		}
		maxAttempts := pick(phase.MaxAttempts, opts.MaxAttempts)

		stages = append(stages,
			Stage{
				Name:           name,
				Kind:           StageExecution,
				Owner:          owner,
				ExpectedOutput: phase.Output,
				MaxAttempts:    maxAttempts,
			},
			Stage{
				Name:           name,
				Kind:           StageValidation,
				Owner:          validator,
				ExpectedOutput: phase.Output,
				MaxAttempts:    maxAttempts,
			},
		)
	}
	return stages, nil
}

// checkUnit validates the fields shared by roles and phases and records the
// name in seen.
func checkUnit(name, output string, seen map[string]bool) error {
	if name == "" {
		return errors.NewDefinitionError("name is blank", errors.ErrInvalidInput).WithField("name")
	}
	if strings.TrimSpace(output) == "" {
		return errors.NewDefinitionError("output is blank", errors.ErrBlankOutput).WithPhase(name).WithField("output")
	}
	if seen[name] {
		return errors.NewDefinitionError("name appears more than once", errors.ErrDuplicatePhase).WithPhase(name)
	}
	seen[name] = true
	return nil
}

func pick(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}
