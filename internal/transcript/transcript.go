// Package transcript records bridge traffic in a JSON-Lines file.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	// DirDevice marks a line received from the device and broadcast to clients.
	DirDevice = "rx"

	// DirClient marks a command received from a client and forwarded to the device.
	DirClient = "tx"
)

// Header is the first line of a transcript file.
type Header struct {
	Version   int    `json:"version"`
	Port      string `json:"port"`
	Baud      int    `json:"baud"`
	Timestamp int64  `json:"timestamp"`
}

// Event is a single relayed line.
// Format on disk: [time_offset, direction, line]
type Event struct {
	TimeOffset float64
	Direction  string // DirDevice or DirClient
	Line       string
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.Direction, e.Line})
}

// UnmarshalJSON implements custom JSON unmarshaling for Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	e.TimeOffset = timeOffset

	direction, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid direction type")
	}
	e.Direction = direction

	line, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid line type")
	}
	e.Line = line

	return nil
}

// Writer records relayed traffic as JSON lines: one header, then one event
// per relayed line.
type Writer struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// New creates a Writer that writes to the given file path.
func New(filePath string) (*Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}

	return &Writer{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewWithWriter creates a Writer that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Writer {
	return &Writer{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the transcript header. Call once before any events.
func (t *Writer) WriteHeader(port string, baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	header := Header{
		Version:   1,
		Port:      port,
		Baud:      baud,
		Timestamp: t.startTime.Unix(),
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// WriteDeviceLine records a device event that was broadcast to clients.
func (t *Writer) WriteDeviceLine(line []byte) error {
	return t.writeEvent(DirDevice, line)
}

// WriteClientLine records a client command that was forwarded to the device.
func (t *Writer) WriteClientLine(line []byte) error {
	return t.writeEvent(DirClient, line)
}

func (t *Writer) writeEvent(direction string, line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := Event{
		TimeOffset: time.Since(t.startTime).Seconds(),
		Direction:  direction,
		Line:       string(line),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close closes the transcript file.
func (t *Writer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		return t.file.Close()
	}
	return nil
}

// StartTime returns the start time of the transcript.
func (t *Writer) StartTime() time.Time {
	return t.startTime
}
