// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package xmodem implements the classic XModem block transfer used by
// FluidNC for file upload and download: 128-byte SOH-framed blocks
// with a wrapping sequence number, verified by an 8-bit arithmetic
// checksum or CRC-16/XMODEM depending on the receiver's handshake
// byte, with bounded retransmission on NAK or timeout.
//
// The engine owns the transport exclusively for the duration of a
// transfer: the session must have detached line routing before
// creating a Conn, and must not re-attach it until Close releases the
// subscription.
package xmodem
