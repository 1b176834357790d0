// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial line settings beyond the baud rate. Motion controllers speak
// 8N1 without exception, so these are constants rather than options.
const (
	serialDataBits = 8

	// hardResetPulse is how long the reset line is held asserted.
	hardResetPulse = 100 * time.Millisecond

	// readChunkSize is the pump's read buffer size.
	readChunkSize = 4096
)

// SerialPort is a Transport over a physical or virtual serial link.
type SerialPort struct {
	address string

	mu           sync.Mutex
	port         serial.Port
	open         bool
	onDisconnect func(err error)
	lostFired    bool

	readers readerSet
}

var _ Transport = (*SerialPort)(nil)

// NewSerialPort creates a transport for the named port (e.g. "COM3" or
// "/dev/ttyUSB0"). The port is not opened until Open is called.
func NewSerialPort(address string) *SerialPort {
	return &SerialPort{address: address}
}

// ScanPorts lists the serial port names present on this machine.
func ScanPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Open opens the port at the given baud rate and starts delivering
// incoming chunks to registered readers.
func (sp *SerialPort) Open(baudRate int) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.open {
		return ErrAlreadyOpen
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: serialDataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(sp.address, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", sp.address, err)
	}
	sp.port = port
	sp.open = true
	sp.lostFired = false

	go sp.pump(port)
	return nil
}

// pump reads from the port until it fails or is closed, fanning each
// chunk out to the registered readers in arrival order.
func (sp *SerialPort) pump(port serial.Port) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			sp.readers.dispatch(buf[:n])
		}
		if err != nil {
			sp.connectionLost(err)
			return
		}
	}
}

// connectionLost marks the port closed and fires the disconnect
// callback exactly once, unless the loss was caused by a local Close.
func (sp *SerialPort) connectionLost(err error) {
	sp.mu.Lock()
	wasOpen := sp.open
	fired := sp.lostFired
	fn := sp.onDisconnect
	sp.open = false
	sp.lostFired = true
	sp.port = nil
	sp.mu.Unlock()

	if wasOpen && !fired && fn != nil {
		fn(err)
	}
}

func (sp *SerialPort) Write(p []byte) error {
	sp.mu.Lock()
	port, open := sp.port, sp.open
	sp.mu.Unlock()
	if !open {
		return ErrPortNotOpen
	}
	if _, err := port.Write(p); err != nil {
		return fmt.Errorf("write %s: %w", sp.address, err)
	}
	return nil
}

func (sp *SerialPort) AddReader(r Reader) (remove func()) {
	return sp.readers.add(r)
}

func (sp *SerialPort) IsOpen() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.open
}

// Close closes the port. The disconnect callback is not fired.
func (sp *SerialPort) Close() error {
	sp.mu.Lock()
	port, open := sp.port, sp.open
	sp.open = false
	sp.lostFired = true
	sp.port = nil
	sp.mu.Unlock()
	if !open {
		return nil
	}
	return port.Close()
}

// HardReset pulses the RTS line, which is wired to the reset pin on
// the common USB-serial controller boards. DTR is held low so boards
// that route it to the boot-strap pin reset into normal run mode. The
// port stays open.
func (sp *SerialPort) HardReset() error {
	sp.mu.Lock()
	port, open := sp.port, sp.open
	sp.mu.Unlock()
	if !open {
		return ErrPortNotOpen
	}
	if err := port.SetDTR(false); err != nil {
		return fmt.Errorf("clear boot strap: %w", err)
	}
	if err := port.SetRTS(true); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	time.Sleep(hardResetPulse)
	if err := port.SetRTS(false); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}
	return nil
}

func (sp *SerialPort) OnDisconnect(fn func(err error)) {
	sp.mu.Lock()
	sp.onDisconnect = fn
	sp.mu.Unlock()
}
