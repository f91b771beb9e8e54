// Package trace records the raw payloads exchanged on transport sockets, for debugging.
package trace
