package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ConsoleLogger is a leveled logging engine backed by zerolog. Level filtering happens here, before
// any formatting work is done, so that disabled levels cost nothing beyond a comparison.
type ConsoleLogger struct {
	level  Level
	engine zerolog.Logger
}

// zerologLevels maps each Level onto the equivalent zerolog level.
var zerologLevels = map[Level]zerolog.Level{
	Trace: zerolog.TraceLevel,
	Debug: zerolog.DebugLevel,
	Info:  zerolog.InfoLevel,
	Warn:  zerolog.WarnLevel,
	Error: zerolog.ErrorLevel,
}

// NewConsoleLogger creates a human-readable standard output logger limited to the specified level.
// Only log messages that are less verbose than the specified level are logged.
func NewConsoleLogger(level Level) Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
	}

	return newConsoleLogger(level, zerolog.New(output))
}

// NewWriterLogger creates a logger limited to the specified level that writes newline-delimited
// JSON records to an arbitrary writer.
func NewWriterLogger(level Level, w io.Writer) Logger {
	return newConsoleLogger(level, zerolog.New(w))
}

// NewNoopLogger creates a logger that discards every message and enables no levels below Error.
func NewNoopLogger() Logger {
	return &ConsoleLogger{level: Error, engine: zerolog.Nop()}
}

func newConsoleLogger(level Level, engine zerolog.Logger) *ConsoleLogger {
	// zerolog applies its own process-wide threshold on top of the per-logger one; make sure it
	// does not swallow trace records that this logger was explicitly asked to emit.
	if level == Trace && zerolog.GlobalLevel() > zerolog.TraceLevel {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	return &ConsoleLogger{
		level:  level,
		engine: engine.Level(zerologLevels[level]).With().Timestamp().Logger(),
	}
}

// Trace logs a trace message, if permitted by the current level.
func (l *ConsoleLogger) Trace(format string, v ...interface{}) {
	l.log(Trace, format, v...)
}

// Debug logs a debug message, if permitted by the current level.
func (l *ConsoleLogger) Debug(format string, v ...interface{}) {
	l.log(Debug, format, v...)
}

// Info logs an informational message, if permitted by the current level.
func (l *ConsoleLogger) Info(format string, v ...interface{}) {
	l.log(Info, format, v...)
}

// Warn logs a warning message, if permitted by the current level.
func (l *ConsoleLogger) Warn(format string, v ...interface{}) {
	l.log(Warn, format, v...)
}

// Error logs an error message, if permitted by the current level.
func (l *ConsoleLogger) Error(format string, v ...interface{}) {
	l.log(Error, format, v...)
}

// Level reads the current logging level.
func (l *ConsoleLogger) Level() Level {
	return l.level
}

// log emits a message at the given level, if permitted by the current level.
func (l *ConsoleLogger) log(level Level, format string, v ...interface{}) {
	if l.level.Enables(level) {
		l.engine.WithLevel(zerologLevels[level]).Msgf(format, v...)
	}
}
