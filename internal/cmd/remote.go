package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// The commands in this file talk to a running 'foreman serve'.

var launchCmd = &cobra.Command{
	Use:   "launch <definition>",
	Short: "Submit a pipeline definition to the server",
	Long: `Submit a pipeline definition (YAML or JSON, "-" for stdin) to a running
foreman server and print the new pipeline's ID.`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

var abortCmd = &cobra.Command{
	Use:   "abort <pipeline-id>",
	Short: "Abort a pipeline",
	Long:  `Cancel the in-flight stage of a pipeline, release its workspace and mark it aborted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <pipeline-id>",
	Short: "Decide what happens to an escalated pipeline",
	Long: `Resume an escalated pipeline.

By default the pipeline is retried from the stage recorded in its
escalation (shown by 'foreman show'). --stage restarts from an earlier
stage instead; it may not be past the stage that escalated. --abort ends
the pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var escalateCmd = &cobra.Command{
	Use:   "escalate <pipeline-id>",
	Short: "Stop a running pipeline and hand it to an operator",
	Args:  cobra.ExactArgs(1),
	RunE:  runEscalate,
}

var rmCmd = &cobra.Command{
	Use:   "rm <pipeline-id>",
	Short: "Delete a completed or aborted pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

var (
	launchWatch    bool
	resumeStage    int
	resumeAbort    bool
	escalateReason string
)

func init() {
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(escalateCmd)
	rootCmd.AddCommand(rmCmd)

	launchCmd.Flags().BoolVarP(&launchWatch, "watch", "w", false, "Follow the pipeline's events after launching")
	resumeCmd.Flags().IntVar(&resumeStage, "stage", 0, "Stage index to restart from")
	resumeCmd.Flags().BoolVar(&resumeAbort, "abort", false, "Abort instead of retrying")
	escalateCmd.Flags().StringVarP(&escalateReason, "reason", "r", "", "Why the pipeline is being escalated")
	_ = escalateCmd.MarkFlagRequired("reason")
}

func newClient() *server.Client {
	return server.NewClient(viper.GetString("server.addr"))
}

func readDefinition(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return data, nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	raw, err := readDefinition(cmd, args[0])
	if err != nil {
		return err
	}

	client := newClient()
	id, err := client.Launch(cmd.Context(), raw)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)

	if launchWatch {
		return watchPipeline(cmd, client, id)
	}
	return nil
}

func runAbort(cmd *cobra.Command, args []string) error {
	p, err := newClient().Abort(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s %s\n", p.ID, p.Status)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	d := pipeline.Decision{Action: pipeline.DecisionRetry}
	if resumeAbort {
		d.Action = pipeline.DecisionAbort
	}
	if cmd.Flags().Changed("stage") {
		if resumeAbort {
			return fmt.Errorf("--stage cannot be combined with --abort")
		}
		stage := resumeStage
		d.StageIndex = &stage
	}

	p, err := newClient().Resume(cmd.Context(), args[0], d)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cur := p.Current(); cur != nil && p.Status == pipeline.StatusRunning {
		fmt.Fprintf(out, "Pipeline %s resumed at stage %d (%s)\n", p.ID, p.Cursor, cur.Label())
		return nil
	}
	fmt.Fprintf(out, "Pipeline %s %s\n", p.ID, p.Status)
	return nil
}

func runEscalate(cmd *cobra.Command, args []string) error {
	p, err := newClient().Escalate(cmd.Context(), args[0], escalateReason)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s %s\n", p.ID, p.Status)
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
