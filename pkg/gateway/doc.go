// Package gateway implements the device side of the session transport: a
// WebSocket link carrying JSON text control messages and binary encoded
// audio frames.
//
// The read pump is deliberately thin. It classifies each inbound frame as
// binary, text, connected, or disconnected, copies the payload into a pool
// block, and pushes a RawMsg onto the transport-raw queue without blocking.
// All parsing and session logic runs in the control loop that drains the
// queue; a full queue drops the frame and returns its block immediately.
//
// Large binary payloads arrive split into fragments under a small envelope
// (see Fragment). The Reassembler stitches them into a single pool block
// and emits one RawMsg on completion. Batched playback payloads are
// unpacked by DecodeBatch into individual packets.
//
// Reconnection is owned by the control loop, not this package: the client
// only dials and closes.
package gateway
