package serial

import (
	"fmt"
	"io"
	"time"

	goserial "go.bug.st/serial"
)

// Port is the subset of a serial port the Link needs. Reads are expected to
// return (0, nil) when the read timeout elapses with no data.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port at the given device path and baud rate.
// The Link uses this to (re)establish the serial session; tests substitute
// an in-memory implementation.
type Opener func(path string, baud int) (Port, error)

// OpenPort is the default Opener, backed by go.bug.st/serial. It applies the
// Link's fixed read timeout so the poll loop never blocks indefinitely.
func OpenPort(path string, baud int) (Port, error) {
	mode := &goserial.Mode{
		BaudRate: baud,
	}

	port, err := goserial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return port, nil
}
