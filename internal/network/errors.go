package network

import (
	"errors"
)

var (
	// ErrQueryTimeout is returned when no response arrived before the query's deadline.
	ErrQueryTimeout = errors.New("client: query timed out")
	// ErrClientClosed is returned for queries still in flight when the client is closed.
	ErrClientClosed = errors.New("client: closed")
	// ErrPayloadSize is returned for payloads that are empty or cannot be framed by the transport.
	ErrPayloadSize = errors.New("client: invalid payload size")
)
