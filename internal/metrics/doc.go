// Package metrics contains abstractions for emission of metrics generated throughout the lifetime
// of the application. Currently, the only supported metrics output engine is statsd.
//
// Metrics are generated at various points of the reactor loop and of each query lifecycle. Thus, the
// metrics emissions in this package are structured around the notion of hooks: a hook interface
// defines methods that are invoked by the reactor and the transports at lifecycle points in their
// logic. Implementations of hook interfaces actually output the metrics to a backend engine; this
// responsibility is decoupled from the semantics of "hooking" into business logic.
package metrics
