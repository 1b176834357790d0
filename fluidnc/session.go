// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/MitchBradley/fluid-installer/transport"
	"github.com/MitchBradley/fluid-installer/xmodem"
)

// Status is the session connection state.
type Status uint32

// Session status values
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusConnectionLost
	StatusUnknownDevice
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusConnectionLost:
		return "connection lost"
	case StatusUnknownDevice:
		return "unknown device"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// StatusListener receives session status changes.
type StatusListener func(Status)

// Control bytes and transfer-mode command texts.
const (
	ctrlEchoOff   byte = 0x0C // silence local echo
	ctrlSoftReset byte = 0x18 // soft-reset the controller

	enterTransferText = "$X\r\n"
	xmodemSendFmt     = "$Xmodem/Send=%s\r\n"
	xmodemReceiveFmt  = "$Xmodem/Receive=%s\r\n"
)

// Welcome banner markers. A controller identifies itself with one of
// these right after reset.
const (
	bannerGrblHAL = "GrblHAL "
	bannerGrbl    = "Grbl "
	markerFluidNC = " [FluidNC v"
)

// IsWelcomeString reports whether line is a recognized welcome banner:
// a "GrblHAL " or "Grbl " prefix, or the FluidNC version marker at a
// positive offset.
func IsWelcomeString(line string) bool {
	return strings.HasPrefix(line, bannerGrblHAL) ||
		strings.HasPrefix(line, bannerGrbl) ||
		strings.Index(line, markerFluidNC) > 0
}

// Session is the stateful controller owning one transport and its
// protocol state. It runs the connect handshake, exposes the command
// API through its Dispatcher, and switches the stream into binary
// framing for file transfers.
type Session struct {
	tr  transport.Transport
	cfg Config
	log zerolog.Logger

	dispatcher *Dispatcher
	status     atomic.Uint32

	mu            sync.Mutex
	version       string
	statsLines    []string
	listeners     map[int]StatusListener
	listenerOrder []int
	nextListener  int
	removeRouting func()

	transferActive atomic.Bool
}

// NewSession creates a session bound to tr. Options may be nil.
func NewSession(tr transport.Transport, o *SessionOption) *Session {
	if o == nil {
		o = NewOption()
	}
	s := &Session{
		tr:        tr,
		cfg:       o.config,
		log:       o.logger,
		listeners: make(map[int]StatusListener),
	}
	s.dispatcher = NewDispatcher(tr, o.logger)
	return s
}

// Status returns the current session status.
func (s *Session) Status() Status {
	return Status(s.status.Load())
}

// Version returns the raw version line captured during the handshake,
// or "" if no banner was seen.
func (s *Session) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Stats returns the device statistics fetched after connect, if the
// best-effort fetch succeeded.
func (s *Session) Stats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statsLines...)
}

// AddStatusListener registers a listener for status changes and
// returns a function that removes it.
func (s *Session) AddStatusListener(fn StatusListener) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerOrder = append(s.listenerOrder, id)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		for i, v := range s.listenerOrder {
			if v == id {
				s.listenerOrder = append(s.listenerOrder[:i], s.listenerOrder[i+1:]...)
				break
			}
		}
	}
}

// setStatus stores the status and notifies every listener. The
// listener set is copied before iterating so listeners may register or
// remove themselves during notification.
func (s *Session) setStatus(st Status) {
	s.status.Store(uint32(st))

	s.mu.Lock()
	active := make([]StatusListener, 0, len(s.listenerOrder))
	for _, id := range s.listenerOrder {
		if fn, ok := s.listeners[id]; ok {
			active = append(active, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range active {
		fn(st)
	}
}

// Connect opens the transport and runs the handshake: silence echo,
// soft-reset, wait for the welcome banner, settle, then query the
// version. A missing banner is not fatal; the session still reaches
// Connected and only the version stays unset. When connected, the
// dispatcher takes over line routing and the device statistics are
// fetched best-effort.
func (s *Session) Connect(ctx context.Context) error {
	if s.tr.IsOpen() {
		return nil
	}
	s.setStatus(StatusConnecting)

	if err := s.tr.Open(s.cfg.BaudRate); err != nil {
		s.setStatus(StatusDisconnected)
		return fmt.Errorf("connect: %w", err)
	}
	s.tr.OnDisconnect(func(err error) {
		s.log.Warn().Err(err).Msg("connection lost")
		s.dispatcher.Abort(ErrCancelled)
		s.setStatus(StatusConnectionLost)
	})

	collector := newLineCollector()
	removeTemp := s.tr.AddReader(collector.onData)

	err := s.tr.Write([]byte{ctrlEchoOff, ctrlSoftReset})
	if err == nil {
		err = s.initializeController(ctx, collector)
	}
	removeTemp()
	if err != nil {
		_ = s.tr.Close()
		s.status.Store(uint32(StatusDisconnected))
		return fmt.Errorf("connect: %w", err)
	}

	s.setStatus(StatusConnected)
	s.attachRouting()
	s.fetchStats(ctx)
	return nil
}

// initializeController is the handshake. It returns an error only for
// transport failures or context cancellation; a missing banner is the
// documented lenient path.
func (s *Session) initializeController(ctx context.Context, c *lineCollector) error {
	found := false
scan:
	for i := 0; i < s.cfg.WelcomeReads; i++ {
		for _, line := range c.takeLines() {
			if IsWelcomeString(line) {
				s.log.Debug().Str("banner", line).Msg("welcome banner detected")
				found = true
				break scan
			}
		}
		if err := sleepCtx(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
	}
	if !found {
		// Lenient on purpose: silent or non-standard firmware still
		// gets a session; only the version negotiation is skipped.
		s.log.Warn().Msg("no welcome banner within detection window")
		return nil
	}

	if err := s.settle(ctx, c); err != nil {
		return err
	}

	// Clear residual state with a bare newline and wait for its reply.
	if err := s.tr.Write([]byte("\n")); err != nil {
		return err
	}
	if _, err := s.waitLine(ctx, c); err != nil {
		return err
	}

	if err := s.tr.Write([]byte(versionQueryText + "\n")); err != nil {
		return err
	}
	line, err := s.waitLine(ctx, c)
	if err != nil {
		return err
	}
	if line != "" {
		s.mu.Lock()
		s.version = line
		s.mu.Unlock()
		s.log.Debug().Str("version", line).Msg("firmware version negotiated")
	}

	return s.settle(ctx, c)
}

// settle polls until a read comes back with no buffered lines,
// bounded by SettleReads.
func (s *Session) settle(ctx context.Context, c *lineCollector) error {
	for i := 0; i < s.cfg.SettleReads; i++ {
		if err := sleepCtx(ctx, s.cfg.SettleInterval); err != nil {
			return err
		}
		if len(c.takeLines()) == 0 {
			return nil
		}
	}
	return nil
}

// waitLine polls for a single line, bounded by SettleReads. A bounded
// miss returns "", nil; only context cancellation is an error.
func (s *Session) waitLine(ctx context.Context, c *lineCollector) (string, error) {
	for i := 0; i < s.cfg.SettleReads; i++ {
		if line, ok := c.nextLine(); ok {
			return line, nil
		}
		if err := sleepCtx(ctx, s.cfg.SettleInterval); err != nil {
			return "", err
		}
	}
	return "", nil
}

// fetchStats pulls the device statistics report. Failures are logged,
// never fatal; the stats simply stay unavailable.
func (s *Session) fetchStats(ctx context.Context) {
	cmd := NewStatsCommand()
	if err := s.dispatcher.Send(ctx, cmd, s.cfg.CommandTimeout); err != nil {
		s.log.Warn().Err(err).Msg("device stats unavailable")
		return
	}
	if err := cmd.Err(); err != nil {
		s.log.Warn().Err(err).Msg("device stats rejected")
		return
	}
	s.mu.Lock()
	s.statsLines = cmd.Lines()
	s.mu.Unlock()
}

// Disconnect detaches line routing, rejects pending commands,
// optionally notifies observers, and closes the transport.
func (s *Session) Disconnect(notify bool) error {
	s.detachRouting()
	s.dispatcher.Abort(ErrCancelled)

	s.mu.Lock()
	s.version = ""
	s.statsLines = nil
	s.mu.Unlock()

	if notify {
		s.setStatus(StatusDisconnected)
	} else {
		s.status.Store(uint32(StatusDisconnected))
	}
	return s.tr.Close()
}

// Send transmits a command and waits for its response using the
// session's default command timeout.
func (s *Session) Send(ctx context.Context, cmd Command) error {
	return s.dispatcher.Send(ctx, cmd, s.cfg.CommandTimeout)
}

// SendWithTimeout transmits a command with an explicit timeout;
// 0 waits indefinitely.
func (s *Session) SendWithTimeout(ctx context.Context, cmd Command, timeout time.Duration) error {
	return s.dispatcher.Send(ctx, cmd, timeout)
}

// Ping sends a liveness probe with a short timeout. Success sets the
// status to Connected; failure is returned without a status change.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.dispatcher.Send(ctx, NewPingCommand(), s.cfg.PingTimeout); err != nil {
		return err
	}
	s.setStatus(StatusConnected)
	return nil
}

// DetectController pings until one probe succeeds, bounded by
// PingAttempts. When the budget is exhausted the status becomes
// UnknownDevice and ErrUnknownDevice is returned.
func (s *Session) DetectController(ctx context.Context) error {
	for i := 0; i < s.cfg.PingAttempts; i++ {
		err := s.Ping(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Debug().Int("attempt", i+1).Err(err).Msg("liveness probe failed")
	}
	s.setStatus(StatusUnknownDevice)
	return ErrUnknownDevice
}

// HardReset asserts the transport's reset line and re-runs the
// handshake with a fresh temporary reader. The transport stays open
// and the status does not change.
func (s *Session) HardReset(ctx context.Context) error {
	if !s.tr.IsOpen() {
		return ErrNotConnected
	}
	c := newLineCollector()
	remove := s.tr.AddReader(c.onData)
	defer remove()

	if err := s.tr.HardReset(); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	return s.initializeController(ctx, c)
}

// DownloadFile fetches the named file from the device's storage via
// the binary transfer sub-protocol. While the transfer is active no
// bytes reach the line buffer or command queue.
func (s *Session) DownloadFile(ctx context.Context, name string) ([]byte, error) {
	if !s.tr.IsOpen() {
		return nil, ErrNotConnected
	}
	if !s.transferActive.CompareAndSwap(false, true) {
		return nil, ErrTransferActive
	}
	defer s.transferActive.Store(false)

	s.detachRouting()
	defer s.attachRouting()

	if err := s.enterTransferMode(ctx); err != nil {
		return nil, err
	}

	conn := xmodem.NewConn(s.tr)
	defer conn.Close()

	if err := s.tr.Write([]byte(fmt.Sprintf(xmodemSendFmt, name))); err != nil {
		return nil, fmt.Errorf("request transfer of %s: %w", name, err)
	}
	if err := sleepCtx(ctx, s.cfg.ModeSwitchDelay); err != nil {
		return nil, err
	}

	data, err := xmodem.Receive(conn, xmodem.WithLogger(s.log))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	s.log.Debug().Str("file", name).Int("bytes", len(data)).Msg("download complete")
	return data, nil
}

// UploadFile pushes data to the named file on the device's storage via
// the binary transfer sub-protocol, then waits out the post-transfer
// settle delay so the device can finish writing.
func (s *Session) UploadFile(ctx context.Context, name string, data []byte) error {
	if !s.tr.IsOpen() {
		return ErrNotConnected
	}
	if !s.transferActive.CompareAndSwap(false, true) {
		return ErrTransferActive
	}
	defer s.transferActive.Store(false)

	s.detachRouting()
	defer s.attachRouting()

	if err := s.enterTransferMode(ctx); err != nil {
		return err
	}

	conn := xmodem.NewConn(s.tr)
	defer conn.Close()

	if err := s.tr.Write([]byte(fmt.Sprintf(xmodemReceiveFmt, name))); err != nil {
		return fmt.Errorf("request transfer of %s: %w", name, err)
	}
	if err := sleepCtx(ctx, s.cfg.ModeSwitchDelay); err != nil {
		return err
	}

	if err := xmodem.Send(conn, data, xmodem.WithLogger(s.log)); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	s.log.Debug().Str("file", name).Int("bytes", len(data)).Msg("upload complete")

	return sleepCtx(ctx, s.cfg.UploadSettleDelay)
}

// enterTransferMode unlocks the controller and waits out the mode
// switch, which the device does not confirm synchronously.
func (s *Session) enterTransferMode(ctx context.Context) error {
	if err := s.tr.Write([]byte(enterTransferText)); err != nil {
		return fmt.Errorf("enter transfer mode: %w", err)
	}
	return sleepCtx(ctx, s.cfg.ModeSwitchDelay)
}

func (s *Session) attachRouting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeRouting == nil && s.tr.IsOpen() {
		s.removeRouting = s.tr.AddReader(s.dispatcher.OnData)
	}
}

func (s *Session) detachRouting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeRouting != nil {
		s.removeRouting()
		s.removeRouting = nil
	}
}

// sleepCtx pauses for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
