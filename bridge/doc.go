// Package bridge connects relay graphs through a message bus.
//
// An Outlet is a relay.Acceptor that JSON-encodes each value and publishes it
// on a subject, carrying the trace context in the message header. An Inlet is
// an adaptive task that drains a subscription and hands decoded values to an
// acceptor, usually another relay:
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	out, _ := bridge.NewOutlet[float64](b, "values.halved")
//	producer.Relay(out)
//
//	in, _ := bridge.NewInlet[float64](b, "values.>", consumer)
//	in.Start()
//	defer in.Close()
//
// Inlets sharing a queue name (WithQueue) split the traffic between them.
package bridge
