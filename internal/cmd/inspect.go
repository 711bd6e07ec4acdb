package cmd

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/server"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pipelines",
	Long: `List pipelines known to the server, oldest first.

With --offline the store is read directly, which works without a running
server.

Examples:
  # Everything waiting for an operator
  foreman ls --status awaiting_escalation

  # Running or escalated, straight from the store
  foreman ls --offline --status running,awaiting_escalation`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

var showCmd = &cobra.Command{
	Use:   "show <pipeline-id>",
	Short: "Show one pipeline in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var watchCmd = &cobra.Command{
	Use:   "watch [pipeline-id]",
	Short: "Follow pipeline events",
	Long: `Print lifecycle events as they happen. With a pipeline ID the command
exits once that pipeline completes, is aborted or is escalated; without one
it follows every pipeline until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	lsStatus    []string
	lsOffline   bool
	showOffline bool
	showEvents  int
)

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)

	lsCmd.Flags().StringSliceVarP(&lsStatus, "status", "s", nil, "Only show pipelines in these statuses")
	lsCmd.Flags().BoolVar(&lsOffline, "offline", false, "Read the store instead of asking the server")
	showCmd.Flags().BoolVar(&showOffline, "offline", false, "Read the store instead of asking the server")
	showCmd.Flags().IntVarP(&showEvents, "events", "n", 10, "Number of recent events to show (0 for none)")
}

func parseStatuses(values []string) ([]pipeline.Status, error) {
	var out []pipeline.Status
	for _, v := range values {
		st, ok := pipeline.ParseStatus(strings.TrimSpace(v))
		if !ok {
			return nil, errors.NewValidationError("unknown status").WithField("status").WithValue(v)
		}
		out = append(out, st)
	}
	return out, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	statuses, err := parseStatuses(lsStatus)
	if err != nil {
		return err
	}

	var summaries []pipeline.Summary
	if lsOffline {
		summaries, err = listOffline(cmd.Context(), statuses)
	} else {
		summaries, err = newClient().List(cmd.Context(), statuses...)
	}
	if err != nil {
		return err
	}

	writeSummaries(cmd.OutOrStdout(), summaries, time.Now())
	return nil
}

func listOffline(ctx context.Context, statuses []pipeline.Status) ([]pipeline.Summary, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()

	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(all, func(a, b *pipeline.Pipeline) int {
		return strings.Compare(a.ID, b.ID)
	})

	var out []pipeline.Summary
	for _, p := range all {
		if len(statuses) == 0 || slices.Contains(statuses, p.Status) {
			out = append(out, p.Summarize())
		}
	}
	return out, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	var (
		p   *pipeline.Pipeline
		err error
	)
	if showOffline {
		p, err = loadOffline(cmd.Context(), args[0])
	} else {
		p, err = newClient().Get(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	writePipeline(cmd.OutOrStdout(), p, showEvents)
	return nil
}

func loadOffline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return s.Load(ctx, id)
}

func runWatch(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	return watchPipeline(cmd, newClient(), id)
}

// watchPipeline prints server-sent events. For a single pipeline it stops
// at the first event that ends automated progress.
func watchPipeline(cmd *cobra.Command, client *server.Client, id string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	labels := map[string]*pipeline.Pipeline{}
	lookup := func(pid string) *pipeline.Pipeline {
		if p, ok := labels[pid]; ok {
			return p
		}
		p, err := client.Get(ctx, pid)
		if err != nil {
			return nil
		}
		labels[pid] = p
		return p
	}

	if id != "" {
		p, err := client.Get(ctx, id)
		if err != nil {
			return err
		}
		labels[id] = p
		fmt.Fprintf(out, "Watching %s (%s)\n", p.ID, p.Status)
		if p.Status.IsTerminal() {
			writePipeline(out, p, 0)
			return nil
		}
	}

	return client.Events(ctx, id, func(se server.StreamEvent) bool {
		prefix := ""
		if id == "" {
			prefix = se.PipelineID + " "
		}
		fmt.Fprint(out, prefix)
		writeEventLine(out, se.At, se.Type, se.StageIndex, stageLabel(lookup(se.PipelineID), se.StageIndex), se.Detail)
		return id == "" || !event.Kind(se.Type).IsTerminal()
	})
}
