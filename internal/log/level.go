//go:generate go run golang.org/x/tools/cmd/stringer -type=Level -linecomment=true

package log

import (
	"strings"
)

// Level parametrizes supported log verbosity levels.
type Level int

const (
	// Trace messages dump raw I/O, such as every packet sent or received on a socket.
	Trace Level = iota // TRACE
	// Debug messages trace application-level behaviors.
	Debug // DEBUG
	// Info messages convey general events.
	Info // INFO
	// Warn messages describe non-erroring divergences from the ideal code path.
	Warn // WARN
	// Error messages indicate behavior that is not intended and should be corrected.
	Error // ERROR
)

// ParseLevel looks up a Level constant by its stringified (case-insensitive) representation.
func ParseLevel(level string) (Level, bool) {
	knownLevels := []Level{Trace, Debug, Info, Warn, Error}

	for _, knownLevel := range knownLevels {
		if strings.EqualFold(strings.TrimSpace(level), knownLevel.String()) {
			return knownLevel, true
		}
	}

	return Error, false
}

// Enables indicates whether the current log level enables logging at another level.
//
// For example,
//	Trace enables every level
//	Debug enables Debug, Info, Warn, and Error, but not Trace
//	Error enables Error, but not Trace, Debug, Info, or Warn
func (l Level) Enables(other Level) bool {
	return l <= other
}
