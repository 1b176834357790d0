// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"errors"
	"time"
)

// Constants defining default values and ranges for session parameters.
// The settle delays are wall-clock pauses required by the protocol:
// the devices switch modes without a synchronous confirmation, so the
// host has to wait them out. They are configuration fields rather than
// inline literals so they can be tuned without touching protocol
// logic.
const (
	// DefaultBaudRate is the fixed rate all supported controllers use.
	DefaultBaudRate = 115200

	// Bounded banner poll window after reset: up to WelcomeReads reads
	// with PollInterval pauses between unsuccessful ones.
	DefaultWelcomeReads = 40
	DefaultPollInterval = 50 * time.Millisecond

	// Settle wait: repeated reads until one comes back empty, bounded
	// by SettleReads.
	DefaultSettleReads    = 20
	DefaultSettleInterval = 50 * time.Millisecond

	// Default timeout waiting for a command response.
	DefaultCommandTimeout = 5 * time.Second
	CommandTimeoutMin     = 100 * time.Millisecond
	CommandTimeoutMax     = 255 * time.Second

	// Liveness probe timeout and the number of probe attempts before
	// the device is declared unknown.
	DefaultPingTimeout  = 500 * time.Millisecond
	DefaultPingAttempts = 3

	// Delay between the mode-switch commands of a file transfer, and
	// the extra wait after an upload while the device finishes
	// writing flash.
	DefaultModeSwitchDelay   = 500 * time.Millisecond
	DefaultUploadSettleDelay = 1 * time.Second
)

// Config holds the session parameters.
type Config struct {
	// BaudRate for the serial link.
	BaudRate int

	// WelcomeReads bounds the banner detection window after reset;
	// PollInterval is the pause between unsuccessful reads.
	WelcomeReads int
	PollInterval time.Duration

	// SettleReads bounds a settle wait; SettleInterval is the pause
	// between reads.
	SettleReads    int
	SettleInterval time.Duration

	// CommandTimeout is the default wait for a command response.
	CommandTimeout time.Duration

	// PingTimeout and PingAttempts control controller detection.
	PingTimeout  time.Duration
	PingAttempts int

	// ModeSwitchDelay is the pause after each transfer-mode command;
	// UploadSettleDelay is the extra pause after an upload completes.
	ModeSwitchDelay   time.Duration
	UploadSettleDelay time.Duration
}

// DefaultConfig returns a Config with the default session parameters.
func DefaultConfig() Config {
	return Config{
		BaudRate:          DefaultBaudRate,
		WelcomeReads:      DefaultWelcomeReads,
		PollInterval:      DefaultPollInterval,
		SettleReads:       DefaultSettleReads,
		SettleInterval:    DefaultSettleInterval,
		CommandTimeout:    DefaultCommandTimeout,
		PingTimeout:       DefaultPingTimeout,
		PingAttempts:      DefaultPingAttempts,
		ModeSwitchDelay:   DefaultModeSwitchDelay,
		UploadSettleDelay: DefaultUploadSettleDelay,
	}
}

// Valid checks that the configuration is usable.
func (c Config) Valid() error {
	switch {
	case c.BaudRate <= 0:
		return errors.New("invalid baud rate")
	case c.WelcomeReads <= 0 || c.SettleReads <= 0:
		return errors.New("read bounds must be positive")
	case c.PollInterval <= 0 || c.SettleInterval <= 0:
		return errors.New("poll intervals must be positive")
	case c.CommandTimeout < CommandTimeoutMin || c.CommandTimeout > CommandTimeoutMax:
		return errors.New("command timeout out of range")
	case c.PingTimeout <= 0 || c.PingAttempts <= 0:
		return errors.New("invalid ping settings")
	case c.ModeSwitchDelay < 0 || c.UploadSettleDelay < 0:
		return errors.New("settle delays must not be negative")
	}
	return nil
}
