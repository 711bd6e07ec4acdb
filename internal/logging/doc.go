// Package logging provides structured logging for foreman.
//
// It wraps log/slog with a JSON handler and adds context propagation for the
// identifiers operators filter on when tracing a pipeline after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(stateDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	plog := logger.WithPipeline(id).WithStage(2, "implement")
//	plog.Info("stage dispatched", "attempt", 1)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"stage dispatched","pipeline_id":"01J...","stage_index":2,"stage":"implement","attempt":1}
//
// # Rotation
//
// [RotatingWriter] renames the active file to .1, .2, ... once it exceeds
// MaxSizeMB, keeping MaxBackups files and optionally gzipping them.
//
// # Querying
//
// [ReadEntries] and [Filter] read the JSON lines back, which is what the
// `foreman logs` command uses to show the history of a single pipeline.
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use. Child loggers
// created with the With* methods share the parent's writer.
package logging
