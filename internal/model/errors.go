package model

import "errors"

var (
	// ErrNotConnected is returned when a write is attempted while the serial
	// session is down. The command is dropped; the reconnect loop handles
	// recovery on its own.
	ErrNotConnected = errors.New("serial device not connected")

	// ErrLinkClosed is returned when the serial link has been shut down.
	ErrLinkClosed = errors.New("serial link closed")

	// ErrPortRequired is returned when no serial port path is configured.
	ErrPortRequired = errors.New("serial port is required")

	// ErrInvalidBaudRate is returned for a non-positive baud rate.
	ErrInvalidBaudRate = errors.New("invalid baud rate")
)
