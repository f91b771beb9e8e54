// Package exithook provides a registry of callbacks that run when the process is about to exit.
//
// Go has no built-in notion of exit hooks: os.Exit terminates immediately, and returning from main
// skips every pending goroutine. The registry fills that gap for components that own background
// goroutines and OS resources. Hooks run when a termination signal arrives (see NotifyOnSignal) or
// when main calls Run explicitly before returning. Embedders that call neither must shut such
// components down themselves.
package exithook
