// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package xmodem

import "errors"

// XModem control bytes and framing constants.
const (
	// SOH starts a 128-byte block.
	SOH byte = 0x01
	// EOT ends the transmission.
	EOT byte = 0x04
	// ACK is the positive acknowledgment.
	ACK byte = 0x06
	// NAK is the negative acknowledgment; it also requests
	// checksum-mode transfers during the handshake.
	NAK byte = 0x15
	// CAN cancels the transfer.
	CAN byte = 0x18
	// CRCStart ('C') requests a CRC-mode transfer during the handshake.
	CRCStart byte = 0x43

	// BlockSize is the fixed payload size of a block.
	BlockSize = 128

	// PadByte fills the tail of the final block.
	PadByte byte = 0x1A
)

// Errors reported by transfers.
var (
	ErrTransferFailed = errors.New("xmodem: transfer failed")
	ErrClosed         = errors.New("xmodem: connection closed")
	ErrReadTimeout    = errors.New("xmodem: read timeout")
	ErrCancelled      = errors.New("xmodem: cancelled by peer")
)

// checksum8 is the classic XModem arithmetic checksum: the low byte of
// the sum of the payload bytes.
func checksum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// crc16 is CRC-16/XMODEM: polynomial 0x1021, initial value 0, no
// final XOR.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// buildBlock frames one payload: SOH, sequence number, its one's
// complement, the payload, and the check trailer the receiver asked
// for.
func buildBlock(seq byte, payload []byte, useCRC bool) []byte {
	block := make([]byte, 0, BlockSize+5)
	block = append(block, SOH, seq, ^seq)
	block = append(block, payload...)
	if useCRC {
		crc := crc16(payload)
		block = append(block, byte(crc>>8), byte(crc))
	} else {
		block = append(block, checksum8(payload))
	}
	return block
}
