// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package xmodem

import (
	"bytes"
	"errors"
	"fmt"
)

// Receive downloads a file from the peer. It solicits the transfer
// with 'C' (CRC mode), falling back to NAK (checksum mode) when the
// sender stays silent for half the retry budget, verifies every
// block's sequence number and check value, acknowledges duplicates
// without re-appending them, requests retransmission on mismatch, and
// returns the accumulated payload with trailing padding stripped.
// On failure no partial output is returned.
func Receive(c *Conn, opts ...Option) ([]byte, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c.Purge()
	first, useCRC, err := solicit(c, cfg)
	if err != nil {
		return nil, err
	}
	cfg.log.Debug().Bool("crc", useCRC).Msg("xmodem receive started")

	var out []byte
	expected := byte(1)
	var last byte
	faults := 0
	ctl := first

	for {
		switch ctl {
		case SOH:
			payload, seq, err := readBlock(c, useCRC, cfg)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
				}
				faults++
				if faults > cfg.retries {
					return nil, fmt.Errorf("%w: retries exhausted", ErrTransferFailed)
				}
				cfg.log.Warn().Err(err).Msg("bad block, requesting retransmission")
				c.Purge()
				if werr := c.Write([]byte{NAK}); werr != nil {
					return nil, fmt.Errorf("%w: %v", ErrTransferFailed, werr)
				}
				break
			}

			switch seq {
			case expected:
				out = append(out, payload...)
				last = seq
				expected++ // wraps modulo 256
				faults = 0
				if err := c.Write([]byte{ACK}); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
				}
			case last:
				// Retransmitted block we already have: acknowledge so
				// the sender moves on, but do not append it again.
				cfg.log.Warn().Uint8("seq", seq).Msg("duplicate block acknowledged")
				if err := c.Write([]byte{ACK}); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
				}
			default:
				_ = c.Write([]byte{CAN, CAN})
				return nil, fmt.Errorf("%w: sequence broke at block %d (expected %d)",
					ErrTransferFailed, seq, expected)
			}

		case EOT:
			if err := c.Write([]byte{ACK}); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
			return bytes.TrimRight(out, string(PadByte)), nil

		case CAN:
			return nil, ErrCancelled

		default:
			faults++
			if faults > cfg.retries {
				return nil, fmt.Errorf("%w: unexpected control byte 0x%02X", ErrTransferFailed, ctl)
			}
		}

		for {
			b, err := c.ReadByte(cfg.ackTimeout)
			if err == nil {
				ctl = b
				break
			}
			if errors.Is(err, ErrClosed) {
				return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
			faults++
			if faults > cfg.retries {
				return nil, fmt.Errorf("%w: sender went silent", ErrTransferFailed)
			}
			if werr := c.Write([]byte{NAK}); werr != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransferFailed, werr)
			}
		}
	}
}

// solicit announces readiness until the sender starts transmitting.
// CRC mode is requested first; after half the budget the solicitation
// falls back to the checksum-mode NAK, matching classic receivers.
func solicit(c *Conn, cfg config) (first byte, useCRC bool, err error) {
	useCRC = true
	for i := 0; i < cfg.retries; i++ {
		hs := CRCStart
		if i >= cfg.retries/2 {
			hs = NAK
			useCRC = false
		}
		if err := c.Write([]byte{hs}); err != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}

		b, err := c.ReadByte(cfg.ackTimeout)
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		switch b {
		case SOH, EOT:
			return b, useCRC, nil
		case CAN:
			return 0, false, ErrCancelled
		default:
			// Chatter from the mode switch; ignore it.
		}
	}
	return 0, false, fmt.Errorf("%w: sender never started", ErrTransferFailed)
}

// readBlock reads the remainder of a block after its SOH: sequence
// pair, payload, and check trailer. It verifies the sequence pair and
// the check value.
func readBlock(c *Conn, useCRC bool, cfg config) (payload []byte, seq byte, err error) {
	hdr := make([]byte, 2)
	if err := c.readFull(hdr, cfg.byteTimeout); err != nil {
		return nil, 0, err
	}
	seq = hdr[0]
	if hdr[1] != ^seq {
		return nil, 0, fmt.Errorf("sequence complement mismatch for block %d", seq)
	}

	payload = make([]byte, BlockSize)
	if err := c.readFull(payload, cfg.byteTimeout); err != nil {
		return nil, 0, err
	}

	if useCRC {
		trailer := make([]byte, 2)
		if err := c.readFull(trailer, cfg.byteTimeout); err != nil {
			return nil, 0, err
		}
		want := uint16(trailer[0])<<8 | uint16(trailer[1])
		if got := crc16(payload); got != want {
			return nil, 0, fmt.Errorf("crc mismatch for block %d: want 0x%04X, got 0x%04X", seq, want, got)
		}
	} else {
		trailer, err := c.ReadByte(cfg.byteTimeout)
		if err != nil {
			return nil, 0, err
		}
		if got := checksum8(payload); got != trailer {
			return nil, 0, fmt.Errorf("checksum mismatch for block %d: want 0x%02X, got 0x%02X", seq, trailer, got)
		}
	}
	return payload, seq, nil
}
