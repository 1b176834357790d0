// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MitchBradley/fluid-installer/transport"
	"github.com/MitchBradley/fluid-installer/xmodem"
)

const testBanner = "Grbl 3.7 [FluidNC v3.7.8 (wifi) '$' for help]"

// testConfig returns a Config with short timings. It must stay Valid;
// SetConfig silently falls back to the defaults otherwise.
func testConfig() Config {
	return Config{
		BaudRate:          DefaultBaudRate,
		WelcomeReads:      20,
		PollInterval:      2 * time.Millisecond,
		SettleReads:       10,
		SettleInterval:    2 * time.Millisecond,
		CommandTimeout:    200 * time.Millisecond,
		PingTimeout:       50 * time.Millisecond,
		PingAttempts:      2,
		ModeSwitchDelay:   5 * time.Millisecond,
		UploadSettleDelay: 0,
	}
}

func newTestSession(tr transport.Transport) *Session {
	return NewSession(tr, NewOption().SetConfig(testConfig()))
}

// fakeDevice emulates a controller on the far side of a loopback pair:
// it banners on soft reset, answers the text protocol, and runs the
// device half of file transfers.
type fakeDevice struct {
	tr *transport.Loopback

	mu      sync.Mutex
	buf     LineBuffer
	detach  func()
	silent  bool
	files   map[string][]byte
	uploads map[string][]byte

	wg sync.WaitGroup
}

func newFakeDevice(tr *transport.Loopback) *fakeDevice {
	d := &fakeDevice{
		tr:      tr,
		files:   make(map[string][]byte),
		uploads: make(map[string][]byte),
	}
	_ = tr.Open(DefaultBaudRate)
	d.attach()
	return d
}

func (d *fakeDevice) attach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.Reset()
	d.detach = d.tr.AddReader(d.onData)
}

func (d *fakeDevice) detachLineMode() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove := d.detach
	d.detach = nil
	if remove != nil {
		remove()
	}
	return remove
}

func (d *fakeDevice) send(s string) { _ = d.tr.Write([]byte(s)) }

func (d *fakeDevice) softReset() {
	if !d.silent {
		d.send("\r\n" + testBanner + "\r\n")
	}
}

// onData strips the control bytes, which are not line-terminated, and
// feeds the rest through the line grammar.
func (d *fakeDevice) onData(chunk []byte) {
	text := make([]byte, 0, len(chunk))
	for _, b := range chunk {
		switch b {
		case 0x0C:
			// echo-off, no response
		case 0x18:
			d.softReset()
		default:
			text = append(text, b)
		}
	}

	d.mu.Lock()
	lines := d.buf.Feed(text)
	d.mu.Unlock()
	for _, line := range lines {
		d.handleLine(line)
	}
}

func (d *fakeDevice) handleLine(line string) {
	if d.silent {
		return
	}
	switch {
	case line == "$I":
		d.send("[VER:3.7.8 FluidNC v3.7.8:]\r\nok\r\n")
	case line == "$SS":
		d.send("$Startup/Line0=$H\r\n$Startup/Line1=G54\r\nok\r\n")
	case line == "$Stats":
		d.send("[MSG: Heap: 123456]\r\n[MSG: Uptime: 42s]\r\nok\r\n")
	case strings.HasPrefix(line, "$Xmodem/Send="):
		d.startSend(strings.TrimPrefix(line, "$Xmodem/Send="))
	case strings.HasPrefix(line, "$Xmodem/Receive="):
		d.startReceive(strings.TrimPrefix(line, "$Xmodem/Receive="))
	default:
		d.send("ok\r\n")
	}
}

func transferOpts() []xmodem.Option {
	return []xmodem.Option{
		xmodem.WithHandshakeTimeout(10 * time.Second),
		xmodem.WithAckTimeout(300 * time.Millisecond),
		xmodem.WithByteTimeout(200 * time.Millisecond),
		xmodem.WithRetries(5),
	}
}

func (d *fakeDevice) startSend(name string) {
	remove := d.detachLineMode()
	data := d.files[name]
	conn := xmodem.NewConn(d.tr)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer conn.Close()
		_ = xmodem.Send(conn, data, transferOpts()...)
		if remove != nil {
			remove()
		}
		d.attach()
	}()
}

func (d *fakeDevice) startReceive(name string) {
	remove := d.detachLineMode()
	conn := xmodem.NewConn(d.tr)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer conn.Close()
		data, err := xmodem.Receive(conn, transferOpts()...)
		if err == nil {
			d.mu.Lock()
			d.uploads[name] = data
			d.mu.Unlock()
		}
		if remove != nil {
			remove()
		}
		d.attach()
	}()
}

func (d *fakeDevice) uploaded(name string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploads[name]
}

func connectedSession(t *testing.T) (*Session, *fakeDevice, *transport.Loopback) {
	t.Helper()
	host, devSide := transport.NewLoopbackPair()
	dev := newFakeDevice(devSide)
	s := newTestSession(host)
	require.NoError(t, s.Connect(context.Background()))
	return s, dev, host
}

func TestSessionConnectHandshake(t *testing.T) {
	host, devSide := transport.NewLoopbackPair()
	newFakeDevice(devSide)
	s := newTestSession(host)

	var seen []Status
	var seenMu sync.Mutex
	s.AddStatusListener(func(st Status) {
		seenMu.Lock()
		seen = append(seen, st)
		seenMu.Unlock()
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, "[VER:3.7.8 FluidNC v3.7.8:]", s.Version())
	assert.Equal(t, []string{"[MSG: Heap: 123456]", "[MSG: Uptime: 42s]"}, s.Stats())

	seenMu.Lock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, seen)
	seenMu.Unlock()

	// Connecting an already-open session is a no-op.
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect(true))
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Equal(t, "", s.Version())
}

func TestSessionConnectWithoutBanner(t *testing.T) {
	host, devSide := transport.NewLoopbackPair()
	dev := newFakeDevice(devSide)
	dev.silent = true
	s := newTestSession(host)

	// A silent controller still gets a session; only the version
	// negotiation and startup report are skipped.
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, "", s.Version())
	assert.Empty(t, s.Stats())
}

func TestSessionSendCommand(t *testing.T) {
	s, _, _ := connectedSession(t)
	defer s.Disconnect(false)

	cmd := NewRawCommand("$G")
	require.NoError(t, s.Send(context.Background(), cmd))
	assert.Equal(t, "", cmd.Failed())
}

func TestSessionConnectionLostNotifiesOnce(t *testing.T) {
	s, _, host := connectedSession(t)

	var first, second int
	s.AddStatusListener(func(st Status) {
		if st == StatusConnectionLost {
			first++
		}
	})
	removeSecond := s.AddStatusListener(func(st Status) {
		if st == StatusConnectionLost {
			second++
		}
	})

	host.DropConnection(errors.New("cable pulled"))
	assert.Equal(t, StatusConnectionLost, s.Status())
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)

	// A second drop must not renotify.
	host.DropConnection(errors.New("again"))
	assert.Equal(t, 1, first)

	removeSecond()
}

func TestSessionPingTimeout(t *testing.T) {
	host, _ := transport.NewLoopbackPair()
	require.NoError(t, host.Open(DefaultBaudRate))
	s := newTestSession(host)

	err := s.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestSessionDetectControllerUnknown(t *testing.T) {
	host, _ := transport.NewLoopbackPair()
	require.NoError(t, host.Open(DefaultBaudRate))
	s := newTestSession(host)

	err := s.DetectController(context.Background())
	require.True(t, errors.Is(err, ErrUnknownDevice))
	assert.Equal(t, StatusUnknownDevice, s.Status())
}

func TestSessionHardResetRehandshakes(t *testing.T) {
	s, dev, host := connectedSession(t)
	defer s.Disconnect(false)

	host.ResetFunc = dev.softReset

	require.NoError(t, s.HardReset(context.Background()))
	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, "[VER:3.7.8 FluidNC v3.7.8:]", s.Version())

	// The session must still speak the text protocol afterwards.
	require.NoError(t, s.Ping(context.Background()))
}

func TestSessionHardResetNotConnected(t *testing.T) {
	host, _ := transport.NewLoopbackPair()
	s := newTestSession(host)
	require.True(t, errors.Is(s.HardReset(context.Background()), ErrNotConnected))
}

func TestSessionDownloadFile(t *testing.T) {
	s, dev, _ := connectedSession(t)
	defer s.Disconnect(false)

	want := bytes.Repeat([]byte("G1 X1.5 Y2.5 F100\n"), 20) // spans multiple blocks
	dev.files["job.gcode"] = want

	got, err := s.DownloadFile(context.Background(), "job.gcode")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	dev.wg.Wait()

	// Line mode is restored after the transfer.
	require.NoError(t, s.Ping(context.Background()))
}

func TestSessionUploadFile(t *testing.T) {
	s, dev, _ := connectedSession(t)
	defer s.Disconnect(false)

	data := []byte("name: test\nboard: basic\nstepping:\n  engine: RMT\n")
	require.NoError(t, s.UploadFile(context.Background(), "config.yaml", data))
	dev.wg.Wait()
	assert.Equal(t, data, dev.uploaded("config.yaml"))

	require.NoError(t, s.Ping(context.Background()))
}

func TestSessionTransferExclusion(t *testing.T) {
	s, _, _ := connectedSession(t)
	defer s.Disconnect(false)

	s.transferActive.Store(true)
	_, err := s.DownloadFile(context.Background(), "any")
	assert.True(t, errors.Is(err, ErrTransferActive))
	assert.True(t, errors.Is(s.UploadFile(context.Background(), "any", nil), ErrTransferActive))
	s.transferActive.Store(false)
}

func TestSessionTransferRequiresConnection(t *testing.T) {
	host, _ := transport.NewLoopbackPair()
	s := newTestSession(host)

	_, err := s.DownloadFile(context.Background(), "any")
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.True(t, errors.Is(s.UploadFile(context.Background(), "any", nil), ErrNotConnected))
}
