package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/foreman/internal/definition"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run <definition>",
	Short: "Run one pipeline in the foreground",
	Long: `Run a pipeline definition in this process and wait until it completes,
is aborted, or is escalated.

On a terminal the pipeline board is shown; otherwise lifecycle events are
printed one per line. The command exits non-zero unless the pipeline
completes. An escalated pipeline stays in the store; start 'foreman serve'
and use 'foreman resume' to decide what happens next.

Examples:
  # Run the standard research/design/implement/verify template
  foreman run feature.yaml

  # Plain event output, e.g. in CI
  foreman run --no-tui bugfix.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runNoTUI   bool
	runLabel   string
	runProject string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Print events instead of showing the board")
	runCmd.Flags().StringVar(&runLabel, "label", "", "Override the definition's label")
	runCmd.Flags().StringVar(&runProject, "project", "", "Override the definition's project")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	def, err := definition.Load(args[0])
	if err != nil {
		return err
	}
	if runLabel != "" {
		def.Label = runLabel
	}
	if runProject != "" {
		def.Project = runProject
	}

	o, err := startOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer o.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	useTUI := !runNoTUI && term.IsTerminal(int(os.Stdout.Fd()))

	// Subscribe before launching so the first events are not missed.
	var stream *event.Stream
	if !useTUI {
		stream = event.NewStream(o.bus, 256, nil)
		defer stream.Close()
	}

	id, err := o.manager.Launch(ctx, def)
	if err != nil {
		o.shutdown()
		return err
	}

	out := cmd.OutOrStdout()
	if useTUI {
		_, err = tui.New(o.manager, o.bus, id).Run(ctx)
	} else {
		fmt.Fprintf(out, "Launched pipeline %s\n", id)
		err = followEvents(ctx, out, o.manager, stream, id)
	}

	final, getErr := o.manager.Get(id)
	o.shutdown()
	if err != nil {
		return err
	}
	if getErr != nil {
		return getErr
	}
	return reportFinal(out, final)
}

// followEvents prints the events of pipeline id until it stops making
// automated progress or ctx is done.
func followEvents(ctx context.Context, w io.Writer, m *pipeline.Manager, stream *event.Stream, id string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.C():
			if !ok {
				return nil
			}
			if scoped, ok := ev.(event.PipelineScoped); !ok || scoped.Pipeline() != id {
				continue
			}
			p, _ := m.Get(id)
			switch e := ev.(type) {
			case event.PipelineEvent:
				writeEventLine(w, e.At, string(e.Kind), e.StageIndex, stageLabel(p, e.StageIndex), e.Detail)
				if e.Kind.IsTerminal() {
					return nil
				}
			case event.StageStalledEvent:
				writeEventLine(w, e.Timestamp(), e.EventType(), e.StageIndex, stageLabel(p, e.StageIndex), "")
			}
		}
	}
}

// reportFinal prints the pipeline and turns anything short of completion
// into an error so the exit status reflects the outcome.
func reportFinal(w io.Writer, p *pipeline.Pipeline) error {
	fmt.Fprintln(w)
	writePipeline(w, p, 0)

	switch p.Status {
	case pipeline.StatusCompleted:
		return nil
	case pipeline.StatusAwaitingEscalation:
		fmt.Fprintf(w, "\nDecide with: foreman serve, then foreman resume %s\n", p.ID)
		return fmt.Errorf("pipeline %s escalated", p.ID)
	case pipeline.StatusAborted:
		return fmt.Errorf("pipeline %s aborted", p.ID)
	default:
		fmt.Fprintf(w, "\nPipeline left %s; 'foreman serve' resumes it\n", p.Status)
		return fmt.Errorf("pipeline %s interrupted", p.ID)
	}
}
