// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package xmodem

import (
	"time"

	"github.com/rs/zerolog"
)

// Transfer timing and retry defaults.
const (
	// DefaultHandshakeTimeout bounds the wait for the peer's first
	// control byte.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultAckTimeout bounds each wait for a block acknowledgment.
	DefaultAckTimeout = 5 * time.Second

	// DefaultByteTimeout bounds each wait for the next byte inside a
	// block that has already started arriving.
	DefaultByteTimeout = 1 * time.Second

	// DefaultRetries is the per-block retransmission budget.
	DefaultRetries = 10
)

type config struct {
	log              zerolog.Logger
	handshakeTimeout time.Duration
	ackTimeout       time.Duration
	byteTimeout      time.Duration
	retries          int
}

func defaultConfig() config {
	return config{
		log:              zerolog.Nop(),
		handshakeTimeout: DefaultHandshakeTimeout,
		ackTimeout:       DefaultAckTimeout,
		byteTimeout:      DefaultByteTimeout,
		retries:          DefaultRetries,
	}
}

// Option configures a transfer.
type Option func(*config)

// WithLogger sets the logger for transfer diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithHandshakeTimeout bounds the wait for the peer's first control
// byte.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithAckTimeout bounds each wait for a block acknowledgment.
func WithAckTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ackTimeout = d
		}
	}
}

// WithByteTimeout bounds each wait for the next byte of a block.
func WithByteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.byteTimeout = d
		}
	}
}

// WithRetries sets the per-block retransmission budget.
func WithRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.retries = n
		}
	}
}
