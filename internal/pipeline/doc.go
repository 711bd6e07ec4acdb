// Package pipeline is the orchestration core of foreman: a persistent,
// concurrent state machine that sequences opaque worker runs through
// ordered stages and decides, after each one, whether to advance, retry
// with corrective feedback, or escalate to a human.
//
// # Stages
//
// [Resolve] flattens a [Definition] into a fixed []Stage. A fixed template
// yields one execution stage per role plus a validation stage after each
// reviewed role; a phase list yields an execution/validation pair per
// phase. Both shapes run on the same engine.
//
// # Transitions
//
// [NextAction] is the pure transition function. Execution failures and
// crashed validators escalate; a Revision verdict retries the preceding
// execution stage until its attempts are exhausted; everything else
// advances or completes. [Interpret] parses validator payloads and never
// turns malformed input into Complete.
//
// # Manager
//
// [Manager] owns the in-memory pipeline table and applies actions. Each
// pipeline is single-writer: its entry mutex serializes launch, operator
// commands and stage outcomes, while different pipelines proceed in
// parallel. Snapshots are saved through a [Store] before the corresponding
// events reach the [event.Bus].
//
// Workers are started by an [Executor] in a workspace allocated by a
// [Provisioner]; both are injected, and the core never touches processes
// or version control directly.
//
// # Usage
//
//	mgr := pipeline.NewManager(store, exec, prov,
//	    pipeline.WithLogger(logger),
//	    pipeline.WithBus(bus),
//	)
//	if _, err := mgr.Recover(ctx); err != nil { ... }
//
//	id, err := mgr.Launch(ctx, pipeline.Definition{
//	    Phases: []pipeline.Phase{
//	        {Name: "research", Owner: "researcher", Output: "r.md"},
//	        {Name: "design", Owner: "architect", Output: "d.md"},
//	    },
//	})
package pipeline
