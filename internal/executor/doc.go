// Package executor provides the pipeline.Executor implementations that start
// workers for stages.
//
// Process runs a configured command per stage on a pseudo-terminal inside the
// pipeline's workspace, tees its output to a log file and derives the stage
// outcome from the exit code, the expected output and, for validation
// stages, the verdict file.
//
// Sentinel is for workers that only communicate through files: it writes a
// request document under <workspace>/.foreman/requests and waits for the
// matching completion document under <workspace>/.foreman/done.
package executor
