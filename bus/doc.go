// Package bus provides an in-process message bus for task-to-task traffic.
//
// # Overview
//
// The MessageBus interface carries encoded relay outputs and heartbeats
// between tasks that do not hold direct references to each other. Delivery
// is channel-based and never blocks the publisher.
//
// # Subjects
//
// Subjects are dot-separated tokens such as "heartbeat.relay-a". Subscription
// patterns may use "*" to match exactly one token and ">" to match one or more
// trailing tokens:
//
//	sub, _ := b.Subscribe("heartbeat.>")
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// # Queue Groups
//
// Queue subscriptions spread messages round-robin across the members of a
// group, so several consumers can share one stream:
//
//	sub, _ := b.QueueSubscribe("relay.a.out", "workers")
//	// Only one member of "workers" receives each message
//
// # Backpressure
//
// Each subscription has a bounded buffer (Config.BufferSize). When it is full
// the message is dropped for that subscriber and counted by Dropped.
package bus
