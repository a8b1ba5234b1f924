// Package ws provides WebSocket connection handling for the bridge.
//
// The package implements:
//   - Hub: tracks the set of currently connected clients
//   - Client: one connection with a buffered, non-blocking send queue
//   - Handler: upgrades inbound HTTP connections and runs the read/write pumps
//
// Key behaviors:
//   - Broadcast fan-out never performs I/O under the registry lock: a
//     snapshot is taken, the lock released, then frames are handed to each
//     client's send queue
//   - A client whose send queue is full, or whose socket write fails, is
//     closed and unregistered without affecting delivery to the others
//   - New connections are replayed the recent device events before live
//     traffic
package ws
