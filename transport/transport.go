// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package transport provides the byte-stream transport consumed by the
// device session: a real serial port implementation and an in-memory
// loopback pair used by tests.
package transport

import "errors"

// Transport errors shared by all implementations.
var (
	ErrPortNotOpen  = errors.New("transport: port is not open")
	ErrAlreadyOpen  = errors.New("transport: port is already open")
	ErrPortClosed   = errors.New("transport: port closed")
	ErrResetApplied = errors.New("transport: connection dropped by reset")
)

// Reader receives raw byte chunks from the transport in arrival order.
// The chunk is only valid for the duration of the call; implementations
// that need to keep the bytes must copy them.
type Reader func(chunk []byte)

// Transport is a bidirectional byte stream to a device. Multiple
// independent readers may be registered at any time; each receives
// every chunk in arrival order. All methods are safe for concurrent
// use.
type Transport interface {
	// Open opens the underlying stream at the given baud rate.
	Open(baudRate int) error
	// Write sends bytes to the device.
	Write(p []byte) error
	// AddReader registers a reader and returns a function that
	// unregisters it.
	AddReader(r Reader) (remove func())
	// IsOpen reports whether the stream is currently open.
	IsOpen() bool
	// Close closes the stream. Registered readers stop receiving data.
	Close() error
	// HardReset asserts the out-of-band reset line of the device
	// without closing the stream.
	HardReset() error
	// OnDisconnect registers a callback fired once when the transport
	// loses the connection on its own (device unplugged, read error).
	// It is not fired for a local Close.
	OnDisconnect(fn func(err error))
}
