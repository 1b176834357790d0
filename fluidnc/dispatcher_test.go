// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MitchBradley/fluid-installer/transport"
)

// stubTransport records writes and otherwise behaves as an open port
// with no device behind it.
type stubTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func (s *stubTransport) Open(baudRate int) error { return nil }

func (s *stubTransport) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return nil
}

func (s *stubTransport) AddReader(r transport.Reader) func() { return func() {} }
func (s *stubTransport) IsOpen() bool                        { return true }
func (s *stubTransport) Close() error                        { return nil }
func (s *stubTransport) HardReset() error                    { return nil }
func (s *stubTransport) OnDisconnect(fn func(err error))     {}

func (s *stubTransport) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

func newTestDispatcher() (*Dispatcher, *stubTransport) {
	tr := &stubTransport{}
	return NewDispatcher(tr, zerolog.Nop()), tr
}

func waitPending(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return d.PendingCount() == n },
		time.Second, time.Millisecond)
}

func TestDispatcherResolvesInOrder(t *testing.T) {
	d, tr := newTestDispatcher()

	cmds := []*RawCommand{NewRawCommand("$A"), NewRawCommand("$B"), NewRawCommand("$C")}
	errCh := make([]chan error, len(cmds))
	for i, cmd := range cmds {
		errCh[i] = make(chan error, 1)
		go func(cmd Command, ch chan error) {
			ch <- d.Send(context.Background(), cmd, 0)
		}(cmd, errCh[i])
		waitPending(t, d, i+1)
	}

	d.OnData([]byte("a-report\nok\nok\nerror:2\n"))

	require.NoError(t, <-errCh[0])
	require.NoError(t, <-errCh[1])
	require.NoError(t, <-errCh[2])

	assert.Equal(t, []string{"a-report"}, cmds[0].Lines())
	assert.Empty(t, cmds[1].Lines())
	assert.Equal(t, "", cmds[1].Failed())
	assert.Equal(t, "error:2", cmds[2].Failed())
	assert.Equal(t, 0, d.PendingCount())

	// Queue order is fixed by the gating above; the write itself races
	// the next append, so only membership is asserted.
	assert.ElementsMatch(t, [][]byte{[]byte("$A\n"), []byte("$B\n"), []byte("$C\n")}, tr.written())
}

func TestDispatcherTimeout(t *testing.T) {
	d, _ := newTestDispatcher()

	err := d.Send(context.Background(), NewPingCommand(), 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 0, d.PendingCount())
}

func TestDispatcherUnsolicitedLineDiscarded(t *testing.T) {
	d, _ := newTestDispatcher()

	// Chatter with nothing pending must not disturb later commands.
	d.OnData([]byte("[MSG:INFO: chatter]\nok\n"))

	errCh := make(chan error, 1)
	cmd := NewPingCommand()
	go func() { errCh <- d.Send(context.Background(), cmd, 0) }()
	waitPending(t, d, 1)

	d.OnData([]byte("ok\n"))
	require.NoError(t, <-errCh)
	assert.Equal(t, "ok", cmd.Response())
}

// A response that arrives after its command timed out is attributed to
// the new head of the queue; removal cannot retract bytes already sent.
func TestDispatcherLateResponseRoutesToNewHead(t *testing.T) {
	d, _ := newTestDispatcher()

	err := d.Send(context.Background(), NewVersionCommand(), 20*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout))

	late := NewRawCommand("$B")
	errCh := make(chan error, 1)
	go func() { errCh <- d.Send(context.Background(), late, 0) }()
	waitPending(t, d, 1)

	// The stale $I report lands first and is consumed by $B.
	d.OnData([]byte("[VER:1.1h:]\nok\n"))
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"[VER:1.1h:]"}, late.Lines())
}

func TestDispatcherWriteError(t *testing.T) {
	d, tr := newTestDispatcher()
	tr.writeErr = transport.ErrPortNotOpen

	err := d.Send(context.Background(), NewPingCommand(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrPortNotOpen))
	assert.Equal(t, 0, d.PendingCount())
}

func TestDispatcherAbortRejectsPending(t *testing.T) {
	d, _ := newTestDispatcher()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Send(context.Background(), NewPingCommand(), 0) }()
	waitPending(t, d, 1)

	d.Abort(ErrCancelled)
	require.True(t, errors.Is(<-errCh, ErrCancelled))
	assert.Equal(t, 0, d.PendingCount())
}

func TestDispatcherContextCancel(t *testing.T) {
	d, _ := newTestDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Send(ctx, NewPingCommand(), 0) }()
	waitPending(t, d, 1)

	cancel()
	require.True(t, errors.Is(<-errCh, context.Canceled))
	assert.Equal(t, 0, d.PendingCount())
}
