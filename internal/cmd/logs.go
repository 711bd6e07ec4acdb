package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View orchestrator logs",
	Long: `View and filter the orchestrator log in the state directory.

Examples:
  # Show the last 50 entries
  foreman logs

  # Everything one pipeline did
  foreman logs -p 01JB7ZQ4X8N6V2K3M5P9R1T0SW -n 0

  # Follow warnings and errors as they are written
  foreman logs -f --level warn

  # Entries from the last hour mentioning a verdict
  foreman logs --since 1h --grep verdict`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsPipeline  string
	logsStage     string
	logsComponent string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsPipeline, "pipeline", "p", "", "Only entries for this pipeline")
	logsCmd.Flags().StringVar(&logsStage, "stage", "", "Only entries for this stage label (e.g. design/validate)")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component (e.g. monitor, server)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
}

func buildLogFilter(now time.Time) (logging.Filter, error) {
	f := logging.Filter{
		PipelineID: logsPipeline,
		Stage:      logsStage,
		Component:  logsComponent,
		Contains:   logsGrep,
	}
	if logsLevel != "" {
		f.MinLevel = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.Since = now.Add(-d)
	}
	return f, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter, err := buildLogFilter(time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	logPath := filepath.Join(cfg.Pipeline.StateDir, logging.LogFileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No logs found at %s\n", logPath)
		return nil
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return followLogs(ctx, out, logPath, filter)
	}
	return displayLogs(out, logPath, logsTail, filter)
}

// displayLogs prints the matching entries, keeping only the last tail.
func displayLogs(w io.Writer, logPath string, tail int, filter logging.Filter) error {
	entries, err := logging.ReadEntries(logPath)
	if err != nil {
		return err
	}
	entries = filter.Apply(entries)

	if len(entries) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
		return nil
	}
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	return logging.WriteText(w, entries)
}

// followLogs prints entries appended to the log until ctx is done. A
// rotation replaces the file, so the reader is reopened when that happens.
func followLogs(ctx context.Context, w io.Writer, logPath string, filter logging.Filter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	// Watch the directory; the file itself is renamed away on rotation.
	if err := watcher.Add(filepath.Dir(logPath)); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	tailer, err := openTail(logPath, true)
	if err != nil {
		return err
	}
	defer func() { tailer.close() }()

	fmt.Fprintf(w, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	target := filepath.Clean(logPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// Drain what was written before rotation, then start over.
				if err := tailer.emit(w, filter); err != nil {
					return err
				}
				next, err := openTail(logPath, false)
				if err != nil {
					return err
				}
				tailer.close()
				tailer = next
			}
			if ev.Has(fsnotify.Write | fsnotify.Create) {
				if err := tailer.emit(w, filter); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		}
	}
}

type logTail struct {
	file    *os.File
	reader  *bufio.Reader
	partial string
}

func openTail(path string, fromEnd bool) (*logTail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to seek to end: %w", err)
		}
	}
	return &logTail{file: f, reader: bufio.NewReader(f)}, nil
}

// emit prints every complete line read since the last call. A trailing
// line without a newline is held until the rest arrives.
func (t *logTail) emit(w io.Writer, filter logging.Filter) error {
	var complete strings.Builder
	for {
		chunk, err := t.reader.ReadString('\n')
		if err == io.EOF {
			t.partial += chunk
			break
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}
		complete.WriteString(t.partial)
		complete.WriteString(chunk)
		t.partial = ""
	}
	if complete.Len() == 0 {
		return nil
	}

	entries, err := logging.ParseEntries(strings.NewReader(complete.String()))
	if err != nil {
		return err
	}
	return logging.WriteText(w, filter.Apply(entries))
}

func (t *logTail) close() {
	_ = t.file.Close()
}
