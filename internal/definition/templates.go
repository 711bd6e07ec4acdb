package definition

import (
	"maps"
	"slices"

	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// TemplateStandard is the default role sequence for a feature.
const TemplateStandard = "standard"

var templates = map[string][]pipeline.Role{
	TemplateStandard: {
		{Name: "research", Owner: "researcher", Output: "docs/research.md"},
		{Name: "design", Owner: "architect", Output: "docs/design.md", Review: true},
		{Name: "implement", Owner: "engineer", Output: "docs/implementation.md", Review: true},
		{Name: "verify", Owner: "tester", Output: "docs/verification.md", Review: true},
	},
	"bugfix": {
		{Name: "reproduce", Owner: "engineer", Output: "docs/reproduction.md"},
		{Name: "fix", Owner: "engineer", Output: "docs/fix.md", Review: true},
	},
	"docs": {
		{Name: "outline", Owner: "writer", Output: "docs/outline.md"},
		{Name: "write", Owner: "writer", Output: "docs/draft.md", Review: true},
	},
}

// Template returns a copy of the roles of a built-in template.
func Template(name string) ([]pipeline.Role, bool) {
	roles, ok := templates[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(roles), true
}

// Templates lists the built-in template names in sorted order.
func Templates() []string {
	return slices.Sorted(maps.Keys(templates))
}
