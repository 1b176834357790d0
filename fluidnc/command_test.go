// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPingCommandCompletesOnAnyLine(t *testing.T) {
	cmd := NewPingCommand()
	assert.Equal(t, "", cmd.Text())
	assert.False(t, cmd.Done())

	cmd.AppendLine("ok")
	assert.True(t, cmd.Done())
	assert.Equal(t, "ok", cmd.Response())

	// Further lines are ignored once complete.
	cmd.AppendLine("late")
	assert.Equal(t, "ok", cmd.Response())
}

func TestVersionCommandKeepsRawFirstLine(t *testing.T) {
	cmd := NewVersionCommand()
	assert.Equal(t, "$I", cmd.Text())

	cmd.AppendLine("[VER:1.1h.20190825:]")
	assert.True(t, cmd.Done())
	assert.Equal(t, "[VER:1.1h.20190825:]", cmd.Version())
}

func TestStartupShowCommandAccumulatesUntilTerminator(t *testing.T) {
	cmd := NewStartupShowCommand()
	assert.Equal(t, "$SS", cmd.Text())

	cmd.AppendLine("[MSG:INFO: FluidNC v3.7.8]")
	cmd.AppendLine("[MSG:INFO: Machine test]")
	assert.False(t, cmd.Done())

	cmd.AppendLine("ok")
	assert.True(t, cmd.Done())
	assert.Equal(t, []string{"[MSG:INFO: FluidNC v3.7.8]", "[MSG:INFO: Machine test]"}, cmd.Lines())
	assert.Equal(t, "", cmd.Failed())
}

func TestStatsCommandRejection(t *testing.T) {
	cmd := NewStatsCommand()
	assert.Equal(t, "$Stats", cmd.Text())

	cmd.AppendLine("error:3")
	assert.True(t, cmd.Done())
	assert.Empty(t, cmd.Lines())
	assert.ErrorIs(t, cmd.Err(), ErrCommandRejected)
}

func TestRawCommandReportsError(t *testing.T) {
	cmd := NewRawCommand("$H")
	assert.Equal(t, "$H", cmd.Text())

	cmd.AppendLine("error:9")
	assert.True(t, cmd.Done())
	assert.Empty(t, cmd.Lines())
	assert.Equal(t, "error:9", cmd.Failed())
	assert.ErrorIs(t, cmd.Err(), ErrCommandRejected)

	ok := NewRawCommand("$G")
	ok.AppendLine("ok")
	assert.NoError(t, ok.Err())
}

func TestIsWelcomeString(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"Grbl 1.1h ['$' for help]", true},
		{"GrblHAL 1.1f ['$' or '$HELP' for help]", true},
		{"FluidNC v3.7.8 [FluidNC v3.7.8 (wifi)]", true},
		{"ok", false},
		{"error:20", false},
		{" [FluidNC v3.7.8]", false}, // marker must be at a positive offset
		{"grbl 1.1h", false},         // case-sensitive
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsWelcomeString(tc.line), "line %q", tc.line)
	}
}
