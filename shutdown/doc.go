// Package shutdown coordinates graceful shutdown of tasks, monitors and
// exporters.
//
// # Overview
//
// Handlers register under a phase. On Shutdown (or SIGTERM/SIGINT when
// HandleSignals is active) phases run in ascending order and handlers within
// one phase run concurrently. Every handler shares the shutdown context, so
// a single deadline bounds the whole sequence.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.HandleSignals()
//
//	coord.RegisterStopper("relays", grp, shutdown.PhaseTasks)
//	coord.RegisterStopper("heartbeat", sender, shutdown.PhaseMonitors)
//	coord.RegisterFuncWithPhase("tracing", provider.Shutdown, shutdown.PhaseExporters)
//
//	<-coord.Done()
//
// StopHandler adapts anything with a blocking Stop method, such as a
// *task.Task or a *group.Group. When the context ends before Stop returns
// the handler fails with the context error and Stop finishes on its own.
//
// # Phases
//
//   - PhaseTasks (10): stop relays and task groups
//   - PhaseMonitors (20): stop heartbeat senders and monitors
//   - PhaseTransport (30): close buses
//   - PhaseExporters (40): flush traces, stop the metrics server
//
// Failed handlers are combined into one error that wraps ErrHandlerFailed.
// A panicking handler fails with a PANIC error instead of crashing the
// process. When the deadline passes between phases the remaining phases are
// skipped and the error wraps ErrTimeout.
package shutdown
