// Package heartbeat reports task liveness over a message bus.
//
// # Overview
//
// A Sender is itself a task: on a fixed interval it publishes one Heartbeat
// per watched task, carrying the lifecycle state, whether the goroutine is
// alive, the adaptive sleep estimate and the last error. A Monitor is a task
// that consumes those heartbeats and invokes OnDead callbacks for tasks that
// fall silent.
//
//	┌─────────────┐    heartbeat.<task-id>    ┌─────────────┐
//	│   Sender    │ ───────────────────────>  │   Monitor   │
//	│ (relays...) │                           │             │
//	└─────────────┘                           └─────────────┘
//
// # Usage
//
//	sender, _ := heartbeat.NewSender(heartbeat.SenderConfig{
//	    Bus:      b,
//	    Interval: time.Second,
//	}, halver, doubler)
//	sender.Start()
//
//	monitor, _ := heartbeat.NewMonitor(heartbeat.MonitorConfig{
//	    Bus:     b,
//	    Timeout: 3 * time.Second,
//	})
//	monitor.OnDead(func(id string) { log.Warn("task silent", map[string]interface{}{"task": id}) })
//	monitor.Start()
//
// A stopped task keeps being reported with State STOPPED; only a stopped
// Sender makes its tasks fall silent.
//
// # Subject Convention
//
// Heartbeats are published to heartbeat.<task-id>; the monitor subscribes to
// heartbeat.>.
package heartbeat
