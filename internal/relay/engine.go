// Package relay coordinates the two message directions: device lines are
// validated and broadcast to every client, client messages are validated and
// forwarded to the device.
package relay

import (
	"bytes"
	"encoding/json"
	"log"

	"github.com/esp32-bridge/bridge/internal/buffer"
	"github.com/esp32-bridge/bridge/internal/transcript"
	"github.com/esp32-bridge/bridge/internal/ws"
)

// SerialWriter writes one newline-terminated line to the device.
type SerialWriter interface {
	WriteLine(line []byte) error
}

// Broadcaster fans one frame out to every connected client.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Engine is the relay core. Messages pass through unmodified apart from JSON
// whitespace compaction, so every client receives byte-identical frames and
// the device receives canonical single-line commands.
type Engine struct {
	link       SerialWriter
	hub        Broadcaster
	history    *buffer.LineBuffer // may be nil
	transcript *transcript.Writer // may be nil
}

// NewEngine creates a relay engine. history and tw may be nil to disable
// replay caching and transcript recording.
func NewEngine(link SerialWriter, hub Broadcaster, history *buffer.LineBuffer, tw *transcript.Writer) *Engine {
	return &Engine{
		link:       link,
		hub:        hub,
		history:    history,
		transcript: tw,
	}
}

// OnSerialLine handles one line read from the device. Valid JSON is
// broadcast to all connected clients; anything else is treated as debug
// output from the device and dropped.
func (e *Engine) OnSerialLine(line string) {
	frame, ok := compactJSON([]byte(line))
	if !ok {
		// Devices print boot banners and debug text on the same wire.
		log.Printf("Dropping non-JSON line from device: %q", line)
		return
	}

	if e.history != nil {
		e.history.Append(frame)
	}
	if e.transcript != nil {
		if err := e.transcript.WriteDeviceLine(frame); err != nil {
			log.Printf("Transcript write failed: %v", err)
		}
	}

	e.hub.Broadcast(frame)
}

// OnClientMessage handles one message received from a client. Valid JSON is
// forwarded to the device as a newline-terminated line; malformed JSON is
// logged and dropped without disconnecting the client.
func (e *Engine) OnClientMessage(client *ws.Client, data []byte) {
	frame, ok := compactJSON(data)
	if !ok {
		log.Printf("Invalid JSON from client %s: %q", client.ID(), data)
		return
	}

	if err := e.link.WriteLine(frame); err != nil {
		log.Printf("Failed to forward command to device: %v", err)
		return
	}

	if e.transcript != nil {
		if err := e.transcript.WriteClientLine(frame); err != nil {
			log.Printf("Transcript write failed: %v", err)
		}
	}
}

// compactJSON validates data as JSON and strips insignificant whitespace.
// Compaction, rather than decode/re-encode, keeps key order and number
// representation exactly as sent.
func compactJSON(data []byte) ([]byte, bool) {
	if !json.Valid(data) {
		return nil, false
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}
