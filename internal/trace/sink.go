package trace

import (
	"encoding/hex"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"
)

// ZerologPacketLogger is a PacketLogger writing one JSON record per packet.
type ZerologPacketLogger struct {
	engine zerolog.Logger
	closer io.Closer
}

// NewZerologPacketLogger creates a packet logger writing to w.
func NewZerologPacketLogger(w io.Writer) *ZerologPacketLogger {
	return &ZerologPacketLogger{engine: zerolog.New(w).With().Timestamp().Logger()}
}

// NewFilePacketLogger creates a packet logger appending to the file at path.
func NewFilePacketLogger(path string) (*ZerologPacketLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	logger := NewZerologPacketLogger(file)
	logger.closer = file

	return logger, nil
}

// Log implements PacketLogger.
func (l *ZerologPacketLogger) Log(label string, local net.Addr, remote net.Addr, data []byte) {
	l.engine.Log().
		Str("label", label).
		Str("local", addrString(local)).
		Str("remote", addrString(remote)).
		Int("bytes", len(data)).
		Str("payload", hex.EncodeToString(data)).
		Send()
}

// Close releases the underlying file, if any.
func (l *ZerologPacketLogger) Close() error {
	if l.closer == nil {
		return nil
	}

	return l.closer.Close()
}
