// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package xmodem

import (
	"errors"
	"fmt"
	"time"
)

// Send uploads data to the peer. It waits for the receiver's
// handshake byte (NAK for checksum mode, 'C' for CRC mode), transmits
// the file as 128-byte blocks with sequence numbers starting at 1 and
// wrapping modulo 256, retransmits on NAK or timeout up to the retry
// budget, and finishes with EOT awaiting the final acknowledgment.
func Send(c *Conn, data []byte, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c.Purge()
	useCRC, err := awaitHandshake(c, cfg)
	if err != nil {
		return err
	}
	cfg.log.Debug().Bool("crc", useCRC).Int("bytes", len(data)).Msg("xmodem send started")

	seq := byte(1)
	payload := make([]byte, BlockSize)
	for off := 0; off < len(data); off += BlockSize {
		n := copy(payload, data[off:])
		for i := n; i < BlockSize; i++ {
			payload[i] = PadByte
		}

		if err := sendBlock(c, buildBlock(seq, payload, useCRC), seq, cfg); err != nil {
			return err
		}
		seq++ // wraps modulo 256
	}

	return sendEOT(c, cfg)
}

// awaitHandshake waits for the receiver to announce readiness and the
// check mode it wants.
func awaitHandshake(c *Conn, cfg config) (useCRC bool, err error) {
	deadline := time.Now().Add(cfg.handshakeTimeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return false, fmt.Errorf("%w: no handshake from receiver", ErrTransferFailed)
		}
		if remain > cfg.byteTimeout {
			remain = cfg.byteTimeout
		}
		b, err := c.ReadByte(remain)
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		switch b {
		case CRCStart:
			return true, nil
		case NAK:
			return false, nil
		case CAN:
			return false, ErrCancelled
		default:
			// Residual line-mode chatter before the receiver is
			// ready; skip it.
		}
	}
}

// sendBlock transmits one framed block until it is acknowledged or
// the retry budget runs out.
func sendBlock(c *Conn, block []byte, seq byte, cfg config) error {
	for retry := 0; retry <= cfg.retries; retry++ {
		if err := c.Write(block); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}

		b, err := c.ReadByte(cfg.ackTimeout)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}
			cfg.log.Warn().Uint8("seq", seq).Msg("no acknowledgment, retransmitting")
			continue
		}
		switch b {
		case ACK:
			return nil
		case NAK:
			cfg.log.Warn().Uint8("seq", seq).Msg("block rejected, retransmitting")
			c.Purge()
		case CAN:
			return ErrCancelled
		default:
			cfg.log.Warn().Uint8("seq", seq).Uint8("byte", b).Msg("unexpected control byte")
			c.Purge()
		}
	}
	return fmt.Errorf("%w: retries exhausted for block %d", ErrTransferFailed, seq)
}

// sendEOT closes the transfer, retransmitting the marker until the
// receiver acknowledges it.
func sendEOT(c *Conn, cfg config) error {
	for retry := 0; retry <= cfg.retries; retry++ {
		if err := c.Write([]byte{EOT}); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		b, err := c.ReadByte(cfg.ackTimeout)
		if err == nil && b == ACK {
			return nil
		}
		if err == nil && b == CAN {
			return ErrCancelled
		}
		if errors.Is(err, ErrClosed) {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	return fmt.Errorf("%w: no acknowledgment of end of transmission", ErrTransferFailed)
}
