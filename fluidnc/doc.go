// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package fluidnc implements the host side of the FluidNC / Grbl
// serial control protocol: a device session that multiplexes one
// ordered byte stream into discrete command/response transactions, and
// hands the same stream to the xmodem engine for file transfers.
//
// The pieces, bottom up:
//
//   - LineBuffer splits raw chunks into complete lines, carrying any
//     trailing partial line to the next chunk.
//   - Command is one request/response transaction; each variant is a
//     pure line-consuming state machine that decides when it is
//     complete.
//   - Dispatcher keeps the pending commands strictly ordered and
//     routes every incoming line to the oldest one, enforcing
//     per-command timeouts.
//   - Session owns the transport: it runs the connect handshake
//     (reset, welcome banner, version query), exposes the command
//     API, switches the stream into binary framing for uploads and
//     downloads, and publishes status changes to observers.
package fluidnc
