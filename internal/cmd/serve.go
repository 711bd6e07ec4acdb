package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/foreman/internal/monitor"
	"github.com/Iron-Ham/foreman/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP API",
	Long: `Start the long-lived orchestrator.

serve takes the state directory lock, recovers every persisted pipeline
(re-dispatching stages that were in flight when the previous process
stopped), starts the stall monitor, and serves the operator API on
server.addr until interrupted. Running pipelines are left Running on exit
and resume on the next start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveNoMonitor bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoMonitor, "no-monitor", false, "Disable stall detection")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	o, err := startOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer o.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := o.manager.Recover(ctx)
	if err != nil {
		o.shutdown()
		return fmt.Errorf("failed to recover pipelines: %w", err)
	}
	o.logger.Info("recovery finished",
		"restored", report.Restored, "resumed", report.Resumed, "skipped", report.Skipped)

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled && !serveNoMonitor {
		mon = monitor.New(o.manager, o.bus, monitor.Config{
			StallTimeout: cfg.Monitor.StallTimeout(),
			Interval:     cfg.Monitor.Interval(),
		}, o.logger)
		mon.Start(ctx)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recovered %d pipelines (%d resumed)\n", report.Restored+report.Resumed, report.Resumed)
	fmt.Fprintf(out, "Listening on http://%s\n", cfg.Server.Addr)

	srv := server.New(o.manager, o.bus, o.logger)
	err = srv.ListenAndServe(ctx, cfg.Server.Addr)
	if mon != nil {
		mon.Stop()
	}
	o.shutdown()
	return err
}
