// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"sync"
)

// Loopback is an in-memory Transport. Two loopbacks created by
// NewLoopbackPair are cross-connected: what one side writes, the other
// side's readers receive. It mirrors SerialPort's delivery model (a
// dedicated pump goroutine per side), so protocol code behaves the
// same against either.
type Loopback struct {
	peer *Loopback

	mu           sync.Mutex
	open         bool
	onDisconnect func(err error)
	lostFired    bool

	// ResetFunc, when set, is invoked by HardReset. Tests use it to
	// simulate the device rebooting and emitting its banner.
	ResetFunc func()

	inbox   chan []byte
	done    chan struct{}
	readers readerSet
}

var _ Transport = (*Loopback)(nil)

// NewLoopbackPair creates two connected loopback transports.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := newLoopback()
	b := newLoopback()
	a.peer, b.peer = b, a
	return a, b
}

func newLoopback() *Loopback {
	lb := &Loopback{
		inbox: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
	go lb.pump()
	return lb
}

func (lb *Loopback) pump() {
	for {
		select {
		case chunk := <-lb.inbox:
			lb.readers.dispatch(chunk)
		case <-lb.done:
			return
		}
	}
}

func (lb *Loopback) Open(baudRate int) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.open {
		return ErrAlreadyOpen
	}
	lb.open = true
	lb.lostFired = false
	return nil
}

func (lb *Loopback) Write(p []byte) error {
	lb.mu.Lock()
	open := lb.open
	lb.mu.Unlock()
	if !open {
		return ErrPortNotOpen
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case lb.peer.inbox <- buf:
		return nil
	case <-lb.peer.done:
		return ErrPortClosed
	}
}

func (lb *Loopback) AddReader(r Reader) (remove func()) {
	return lb.readers.add(r)
}

func (lb *Loopback) IsOpen() bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.open
}

func (lb *Loopback) Close() error {
	lb.mu.Lock()
	open := lb.open
	lb.open = false
	lb.lostFired = true
	lb.mu.Unlock()
	if open {
		close(lb.done)
	}
	return nil
}

// HardReset runs ResetFunc when set; otherwise it is a no-op.
func (lb *Loopback) HardReset() error {
	lb.mu.Lock()
	open := lb.open
	fn := lb.ResetFunc
	lb.mu.Unlock()
	if !open {
		return ErrPortNotOpen
	}
	if fn != nil {
		fn()
	}
	return nil
}

func (lb *Loopback) OnDisconnect(fn func(err error)) {
	lb.mu.Lock()
	lb.onDisconnect = fn
	lb.mu.Unlock()
}

// DropConnection simulates a transport-initiated connection loss: the
// side is marked closed and its disconnect callback fires once. A nil
// err is reported as ErrResetApplied.
func (lb *Loopback) DropConnection(err error) {
	if err == nil {
		err = ErrResetApplied
	}
	lb.mu.Lock()
	wasOpen := lb.open
	fired := lb.lostFired
	fn := lb.onDisconnect
	lb.open = false
	lb.lostFired = true
	lb.mu.Unlock()

	if wasOpen {
		close(lb.done)
	}
	if wasOpen && !fired && fn != nil {
		fn(err)
	}
}
