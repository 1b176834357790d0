// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"errors"
)

// error defined
var (
	ErrTimeout         = errors.New("command timeout")
	ErrCancelled       = errors.New("command cancelled")
	ErrUnknownDevice   = errors.New("unknown device: no response to liveness probe")
	ErrTransferActive  = errors.New("a file transfer is already in progress")
	ErrNotConnected    = errors.New("session is not connected")
	ErrCommandRejected = errors.New("device rejected command")
)
