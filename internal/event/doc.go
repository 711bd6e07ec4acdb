// Package event provides a pub-sub event bus for decoupled communication
// between the pipeline manager and its observers.
//
// # Main Types
//
//   - [Event]: interface with EventType() and Timestamp()
//   - [PipelineEvent]: the lifecycle record {pipeline_id, timestamp, kind, stage_index, detail}
//   - [Bus]: synchronous, panic-safe dispatcher
//   - [Stream]: buffered channel adapter over the bus for slow consumers
//
// # Ordering
//
// Publish runs handlers on the caller's goroutine. The manager publishes a
// pipeline's events only after the snapshot that contains them has been
// persisted, so anything a subscriber observes is already durable.
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(string(event.PipelineEscalated), func(e event.Event) {
//	    pe := e.(event.PipelineEvent)
//	    notify(pe.PipelineID, pe.Detail)
//	})
//
//	stream := event.NewStream(bus, 64, nil)
//	defer stream.Close()
//	for e := range stream.C() { ... }
package event
