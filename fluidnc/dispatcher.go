// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MitchBradley/fluid-installer/transport"
)

// pendingCommand pairs a queued command with its caller's completion
// channel. The Dispatcher owns the queue entry; the caller owns the
// command value again once the channel delivers.
type pendingCommand struct {
	cmd  Command
	done chan error // buffered, written exactly once
}

// Dispatcher turns the transport's ordered byte stream into discrete
// command/response transactions. Pending commands form a strict queue:
// every incoming line goes to the head command and nothing else, so at
// most one command is receiving at a time. Lines that arrive while the
// queue is empty are unsolicited device chatter and are discarded.
//
// Removing a command (timeout or cancellation) cannot retract the
// bytes already written to the device, so a late response to a removed
// command is attributed to whatever is the head by then. Routing is
// queue-position-based on purpose; see the protocol notes in DESIGN.md.
type Dispatcher struct {
	tr  transport.Transport
	log zerolog.Logger

	mu    sync.Mutex
	queue []*pendingCommand
	buf   LineBuffer
}

// NewDispatcher creates a dispatcher writing to tr. The caller is
// responsible for routing incoming bytes to OnData.
func NewDispatcher(tr transport.Transport, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{tr: tr, log: log}
}

// Send appends cmd to the pending queue, transmits its text, and
// blocks until the command completes, the timeout elapses, or ctx is
// cancelled. A timeout of 0 waits indefinitely. On timeout the command
// is removed from the queue and ErrTimeout is returned; the write
// already sent to the device is not retracted.
func (d *Dispatcher) Send(ctx context.Context, cmd Command, timeout time.Duration) error {
	p := &pendingCommand{cmd: cmd, done: make(chan error, 1)}

	d.mu.Lock()
	d.queue = append(d.queue, p)
	d.mu.Unlock()

	if err := d.tr.Write([]byte(cmd.Text() + "\n")); err != nil {
		d.remove(p)
		return fmt.Errorf("send %q: %w", cmd.Text(), err)
	}
	d.log.Debug().Str("cmd", cmd.Text()).Msg("command sent")

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case err := <-p.done:
		return err
	case <-expired:
		if d.remove(p) {
			d.log.Debug().Str("cmd", cmd.Text()).Dur("timeout", timeout).Msg("command timed out")
			return fmt.Errorf("%q: %w after %s", cmd.Text(), ErrTimeout, timeout)
		}
		// The completing line won the race; the removal was a no-op.
		return <-p.done
	case <-ctx.Done():
		if d.remove(p) {
			return ctx.Err()
		}
		return <-p.done
	}
}

// OnData feeds raw bytes into the line buffer and routes each complete
// line to the head of the pending queue. It is registered as a
// transport reader while the session is in line mode.
func (d *Dispatcher) OnData(p []byte) {
	d.mu.Lock()
	lines := d.buf.Feed(p)
	d.mu.Unlock()
	for _, line := range lines {
		d.routeLine(line)
	}
}

func (d *Dispatcher) routeLine(line string) {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()
		d.log.Debug().Str("line", line).Msg("unsolicited line discarded")
		return
	}
	head := d.queue[0]
	head.cmd.AppendLine(line)
	if !head.cmd.Done() {
		d.mu.Unlock()
		return
	}
	d.queue = d.queue[1:]
	d.mu.Unlock()
	head.done <- nil
}

// remove deletes p from the queue if it is still pending. Exactly one
// of remove and routeLine's pop commits for a given command; the other
// observes a no-op.
func (d *Dispatcher) remove(p *pendingCommand) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, q := range d.queue {
		if q == p {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Abort rejects every pending command with err and clears the queue
// and line buffer. Called when the session disconnects.
func (d *Dispatcher) Abort(err error) {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.buf.Reset()
	d.mu.Unlock()

	for _, p := range pending {
		p.done <- err
	}
}

// PendingCount returns the number of commands awaiting responses.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
