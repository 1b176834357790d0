// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package xmodem

import (
	"sync"
	"time"

	"github.com/MitchBradley/fluid-installer/transport"
)

// Conn is the engine's exclusive view of the transport during a
// transfer. It subscribes to the byte stream on creation and
// accumulates everything that arrives; Close releases the
// subscription so the session can re-attach line routing.
type Conn struct {
	tr     transport.Transport
	remove func()

	mu     sync.Mutex
	buf    []byte
	closed bool
	avail  chan struct{}
}

// NewConn subscribes to tr and returns the transfer connection. The
// caller must have detached all other routing first.
func NewConn(tr transport.Transport) *Conn {
	c := &Conn{tr: tr, avail: make(chan struct{}, 1)}
	c.remove = tr.AddReader(c.onData)
	return c
}

func (c *Conn) onData(p []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, p...)
	c.mu.Unlock()
	select {
	case c.avail <- struct{}{}:
	default:
	}
}

// Write sends bytes to the peer.
func (c *Conn) Write(p []byte) error {
	return c.tr.Write(p)
}

// Read drains and returns the currently buffered bytes.
func (c *Conn) Read() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.buf
	c.buf = nil
	return b
}

// PeekByte returns the next unread byte without consuming it.
func (c *Conn) PeekByte() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return 0, false
	}
	return c.buf[0], true
}

// ReadByte waits up to timeout for the next byte.
func (c *Conn) ReadByte(timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		if len(c.buf) > 0 {
			b := c.buf[0]
			c.buf = c.buf[1:]
			c.mu.Unlock()
			return b, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return 0, ErrClosed
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, ErrReadTimeout
		}
		t := time.NewTimer(remain)
		select {
		case <-c.avail:
			t.Stop()
		case <-t.C:
			return 0, ErrReadTimeout
		}
	}
}

// readFull fills p, waiting up to timeout for each missing byte.
func (c *Conn) readFull(p []byte, timeout time.Duration) error {
	for i := range p {
		b, err := c.ReadByte(timeout)
		if err != nil {
			return err
		}
		p[i] = b
	}
	return nil
}

// Purge discards everything currently buffered.
func (c *Conn) Purge() {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}

// Close releases the transport subscription. Pending readers are woken
// with ErrClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.remove()
	select {
	case c.avail <- struct{}{}:
	default:
	}
}
