// Package reactor owns the readiness selector that drives all non-blocking socket I/O for
// outstanding queries, whatever their transport.
//
// A Reactor lazily starts a single goroutine the first time a transport acquires its Selector. That
// goroutine waits for readiness with a bounded timeout, runs the timeout sweep hook when nothing
// became ready, drains deferred registrations, and dispatches every ready Key to its KeyProcessor.
// Hooks and processors therefore never run concurrently with one another, and the registration set
// is never mutated while a wait is in progress, as long as transports funnel registrations through
// the DrainRegistrations hook.
//
// The goroutine, selector, run flag and exit hook form a generation. Close (or the exit hook, or
// Shutdown) tears a generation down exactly once; the next Acquire builds a fresh one.
package reactor
