// Package serial owns the serial session with the device: opening the port,
// reconnecting after I/O failures, reading newline-delimited lines and
// writing newline-terminated commands.
package serial

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/esp32-bridge/bridge/internal/model"
)

const (
	// ReadTimeout bounds a single blocking read on the port.
	ReadTimeout = 1 * time.Second

	// ReconnectDelay is the fixed wait after an open or I/O failure before
	// the next open attempt. No backoff, no retry cap: the loop runs for the
	// life of the process.
	ReconnectDelay = 1 * time.Second

	// PollInterval is the idle sleep between polls when no data arrived.
	PollInterval = 10 * time.Millisecond

	// DefaultReadBufferSize is the buffer size for reading device output.
	DefaultReadBufferSize = 4096
)

// Config contains options for creating a Link.
type Config struct {
	// PortName is the device path, e.g. /dev/ttyUSB0.
	PortName string

	// BaudRate is the serial baud rate, e.g. 115200.
	BaudRate int

	// Opener opens the port. If nil, OpenPort is used.
	Opener Opener
}

// Link manages the single serial session with the device. At most one port
// handle is open at a time; the handle is discarded on any I/O failure and
// re-created by the run loop after ReconnectDelay. The session is either
// connected or disconnected, nothing in between.
type Link struct {
	portName string
	baud     int
	opener   Opener

	// LineCallback is called with each complete line read from the device,
	// with the trailing newline stripped. Set before calling Run.
	LineCallback func(line string)

	// StateCallback is called when the session connects or disconnects.
	// Set before calling Run.
	StateCallback func(connected bool)

	mu     sync.RWMutex
	port   Port
	closed bool

	// writeMu serializes writes from concurrent client handlers.
	writeMu sync.Mutex
}

// NewLink creates a new Link. The session is not opened until Run is called.
func NewLink(cfg Config) (*Link, error) {
	if cfg.PortName == "" {
		return nil, model.ErrPortRequired
	}
	if cfg.BaudRate <= 0 {
		return nil, model.ErrInvalidBaudRate
	}

	opener := cfg.Opener
	if opener == nil {
		opener = OpenPort
	}

	return &Link{
		portName: cfg.PortName,
		baud:     cfg.BaudRate,
		opener:   opener,
	}, nil
}

// PortName returns the configured device path.
func (l *Link) PortName() string {
	return l.portName
}

// BaudRate returns the configured baud rate.
func (l *Link) BaudRate() int {
	return l.baud
}

// Connected reports whether the serial session is currently open.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port != nil
}

// Run drives the serial session until ctx is cancelled: open the port, poll
// for input, hand complete lines to LineCallback, and on any failure drop
// the handle and retry after ReconnectDelay. Run must be called from a
// single goroutine.
func (l *Link) Run(ctx context.Context) {
	var pending []byte
	buf := make([]byte, DefaultReadBufferSize)

	for {
		if ctx.Err() != nil {
			l.dropPort()
			return
		}

		port := l.currentPort()
		if port == nil {
			opened, err := l.opener(l.portName, l.baud)
			if err != nil {
				log.Printf("Serial connection error: %v", err)
				if !sleepCtx(ctx, ReconnectDelay) {
					return
				}
				continue
			}
			// Data from a previous session is stale once the port reopens.
			pending = pending[:0]
			l.setPort(opened)
			log.Printf("Connected to device on %s", l.portName)
			continue
		}

		n, err := port.Read(buf)
		if err != nil {
			log.Printf("Serial read error: %v", err)
			l.dropPort()
			if !sleepCtx(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		if n == 0 {
			// Read timeout with no data.
			if !sleepCtx(ctx, PollInterval) {
				return
			}
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := string(bytes.TrimRight(pending[:idx], "\r"))
			pending = pending[idx+1:]
			if line == "" {
				continue
			}
			if l.LineCallback != nil {
				l.LineCallback(line)
			}
		}
	}
}

// WriteLine writes a newline-terminated line to the device. When the session
// is down it returns model.ErrNotConnected; the caller logs and drops, it
// does not retry. A write failure discards the handle so the run loop can
// reconnect.
func (l *Link) WriteLine(line []byte) error {
	l.mu.RLock()
	port := l.port
	closed := l.closed
	l.mu.RUnlock()

	if closed {
		return model.ErrLinkClosed
	}
	if port == nil {
		return model.ErrNotConnected
	}

	frame := make([]byte, 0, len(line)+1)
	frame = append(frame, line...)
	frame = append(frame, '\n')

	l.writeMu.Lock()
	_, err := port.Write(frame)
	l.writeMu.Unlock()

	if err != nil {
		l.dropPort()
		return fmt.Errorf("failed to write to device: %w", err)
	}

	return nil
}

// Close shuts the link down and closes any open port. Run exits on its next
// iteration once its context is cancelled; Close makes the port unusable
// immediately.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	port := l.port
	l.port = nil
	l.mu.Unlock()

	if port != nil {
		port.Close()
		l.notifyState(false)
	}
	return nil
}

func (l *Link) currentPort() Port {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.port
}

func (l *Link) setPort(p Port) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		p.Close()
		return
	}
	l.port = p
	l.mu.Unlock()

	l.notifyState(true)
}

// dropPort discards the current handle after an I/O failure. Safe to call
// from both the run loop and WriteLine; only the caller that actually
// removes the handle notifies.
func (l *Link) dropPort() {
	l.mu.Lock()
	port := l.port
	l.port = nil
	l.mu.Unlock()

	if port != nil {
		port.Close()
		l.notifyState(false)
	}
}

func (l *Link) notifyState(connected bool) {
	if l.StateCallback != nil {
		l.StateCallback(connected)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
