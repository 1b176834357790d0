// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"fmt"
	"strings"
)

// Wire-level command texts. Sent as ASCII lines terminated by '\n';
// the terminator is added by the Dispatcher, never by the command.
const (
	versionQueryText = "$I"
	startupShowText  = "$SS"
	statsQueryText   = "$Stats"
)

// Command is one request/response transaction in the text protocol.
// A command knows the text to transmit and consumes response lines
// until it decides it is complete. Commands never talk to the
// transport; the Dispatcher feeds them.
//
// The variant set is closed: every known command kind lives in this
// file. Implementations are not safe for concurrent use on their own;
// the Dispatcher serializes AppendLine calls.
type Command interface {
	// Text returns the literal command text, without terminator.
	Text() string
	// AppendLine consumes one response line.
	AppendLine(line string)
	// Done reports whether the response is complete.
	Done() bool
}

// isTerminator reports whether line ends a multi-line response.
// Grbl-family firmware closes every command with "ok" or "error:N".
func isTerminator(line string) bool {
	return line == "ok" || strings.HasPrefix(line, "error:")
}

// PingCommand is the liveness probe: a bare line that any responsive
// controller answers with a single "ok" (or an error). Any single
// response line completes it.
type PingCommand struct {
	done bool
	line string
}

// NewPingCommand returns a liveness probe command.
func NewPingCommand() *PingCommand { return &PingCommand{} }

func (c *PingCommand) Text() string { return "" }

func (c *PingCommand) AppendLine(line string) {
	if c.done {
		return
	}
	c.line = line
	c.done = true
}

func (c *PingCommand) Done() bool { return c.done }

// Response returns the line that completed the probe.
func (c *PingCommand) Response() string { return c.line }

// VersionCommand queries the firmware build info ($I). The first
// response line is kept verbatim as the version string; the Session's
// settle wait drains the rest of the report.
type VersionCommand struct {
	done    bool
	version string
}

// NewVersionCommand returns a $I version query.
func NewVersionCommand() *VersionCommand { return &VersionCommand{} }

func (c *VersionCommand) Text() string { return versionQueryText }

func (c *VersionCommand) AppendLine(line string) {
	if c.done {
		return
	}
	c.version = line
	c.done = true
}

func (c *VersionCommand) Done() bool { return c.done }

// Version returns the raw first response line.
func (c *VersionCommand) Version() string { return c.version }

// StartupShowCommand fetches the controller's startup report ($SS),
// accumulating lines until the terminator.
type StartupShowCommand struct {
	done  bool
	fail  string
	lines []string
}

// NewStartupShowCommand returns a $SS startup report query.
func NewStartupShowCommand() *StartupShowCommand { return &StartupShowCommand{} }

func (c *StartupShowCommand) Text() string { return startupShowText }

func (c *StartupShowCommand) AppendLine(line string) {
	if c.done {
		return
	}
	if isTerminator(line) {
		if line != "ok" {
			c.fail = line
		}
		c.done = true
		return
	}
	c.lines = append(c.lines, line)
}

func (c *StartupShowCommand) Done() bool { return c.done }

// Lines returns the accumulated report lines, without the terminator.
func (c *StartupShowCommand) Lines() []string { return c.lines }

// Failed returns the "error:N" terminator if the device rejected the
// command, or "" on success.
func (c *StartupShowCommand) Failed() string { return c.fail }

// Err returns ErrCommandRejected wrapping the terminator when the
// device rejected the command, nil otherwise.
func (c *StartupShowCommand) Err() error { return rejection(c.fail) }

// StatsCommand fetches the controller's runtime statistics report
// ($Stats).
type StatsCommand struct {
	done  bool
	fail  string
	lines []string
}

// NewStatsCommand returns a $Stats report query.
func NewStatsCommand() *StatsCommand { return &StatsCommand{} }

func (c *StatsCommand) Text() string { return statsQueryText }

func (c *StatsCommand) AppendLine(line string) {
	if c.done {
		return
	}
	if isTerminator(line) {
		if line != "ok" {
			c.fail = line
		}
		c.done = true
		return
	}
	c.lines = append(c.lines, line)
}

func (c *StatsCommand) Done() bool { return c.done }

// Lines returns the accumulated report lines, without the terminator.
func (c *StatsCommand) Lines() []string { return c.lines }

// Err returns ErrCommandRejected wrapping the terminator when the
// device rejected the command, nil otherwise.
func (c *StatsCommand) Err() error { return rejection(c.fail) }

// RawCommand transmits arbitrary command text and accumulates every
// response line until the terminator.
type RawCommand struct {
	text  string
	done  bool
	fail  string
	lines []string
}

// NewRawCommand returns a command for the given text.
func NewRawCommand(text string) *RawCommand { return &RawCommand{text: text} }

func (c *RawCommand) Text() string { return c.text }

func (c *RawCommand) AppendLine(line string) {
	if c.done {
		return
	}
	if isTerminator(line) {
		if line != "ok" {
			c.fail = line
		}
		c.done = true
		return
	}
	c.lines = append(c.lines, line)
}

func (c *RawCommand) Done() bool { return c.done }

// Lines returns every response line before the terminator.
func (c *RawCommand) Lines() []string { return c.lines }

// Failed returns the "error:N" terminator, or "" on success.
func (c *RawCommand) Failed() string { return c.fail }

// Err returns ErrCommandRejected wrapping the terminator when the
// device rejected the command, nil otherwise.
func (c *RawCommand) Err() error { return rejection(c.fail) }

func rejection(fail string) error {
	if fail == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCommandRejected, fail)
}
