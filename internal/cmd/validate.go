package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/foreman/internal/definition"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition>",
	Short: "Check a definition and print the stages it resolves to",
	Long: `Parse a pipeline definition, apply the configured validator and attempt
bound, and print the flattened stage sequence without running anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the built-in definition templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplates,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(templatesCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	def, stages, err := definition.Resolve(args[0], pipeline.ResolveOptions{
		Validator:   cfg.Pipeline.Validator,
		MaxAttempts: cfg.Pipeline.MaxAttempts,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	name := def.Label
	if name == "" {
		name = args[0]
	}
	fmt.Fprintf(out, "%s: %d stages\n", name, len(stages))
	writeStages(out, stages)
	return nil
}

func writeStages(w io.Writer, stages []pipeline.Stage) {
	for i, s := range stages {
		fmt.Fprintf(w, "  [%d] %-24s %-10s owner=%s attempts=%d output=%s\n",
			i, s.Label(), s.Kind, s.Owner, s.MaxAttempts, s.ExpectedOutput)
	}
}

func runTemplates(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range definition.Templates() {
		roles, _ := definition.Template(name)
		fmt.Fprintf(out, "%s:\n", name)
		for _, r := range roles {
			review := ""
			if r.Review {
				review = " (reviewed)"
			}
			fmt.Fprintf(out, "  %-12s -> %s%s\n", r.Name, r.Output, review)
		}
	}
	return nil
}
