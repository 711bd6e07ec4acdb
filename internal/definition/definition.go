// Package definition loads pipeline definitions from YAML or JSON files and
// expands the built-in role templates.
//
// A definition names either a template or a list of phases:
//
//	label: add-rate-limiter
//	template: standard
//
//	label: api-docs
//	max_attempts: 2
//	phases:
//	  - name: research
//	    owner: researcher
//	    output: docs/research.md
//
// A template may also be written inline as roles.
package definition

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// Load reads and parses the definition at path.
func Load(path string) (pipeline.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Definition{}, errors.NewDefinitionError("cannot read definition", err).WithField(path)
	}
	return Parse(data)
}

// Parse decodes a definition and expands a named template into its roles.
// JSON input is accepted because it is valid YAML. Unknown keys are rejected
// so that a misspelled field does not silently fall back to a default.
func Parse(data []byte) (pipeline.Definition, error) {
	var def pipeline.Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if err == io.EOF {
			return def, errors.NewDefinitionError("definition is empty", errors.ErrEmptyDefinition)
		}
		return def, errors.NewDefinitionError("malformed definition", err)
	}

	if err := expand(&def); err != nil {
		return def, err
	}
	return def, nil
}

// expand fills in the roles of a named template. Inline roles keep the
// template name as a label only.
func expand(def *pipeline.Definition) error {
	if def.Template == "" || len(def.Roles) > 0 {
		return nil
	}
	if len(def.Phases) > 0 {
		return errors.NewDefinitionError("definition names a template and lists phases", errors.ErrAmbiguousDefinition).
			WithField("template")
	}
	roles, ok := Template(def.Template)
	if !ok {
		return errors.NewDefinitionError("no built-in template named "+def.Template, errors.ErrUnknownTemplate).
			WithField("template")
	}
	def.Roles = roles
	return nil
}

// Resolve loads the definition at path and flattens it into stages with
// the given fallbacks. It is what `foreman validate` prints.
func Resolve(path string, opts pipeline.ResolveOptions) (pipeline.Definition, []pipeline.Stage, error) {
	def, err := Load(path)
	if err != nil {
		return def, nil, err
	}
	stages, err := pipeline.Resolve(def, opts)
	return def, stages, err
}
