// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import "sync"

// lineCollector is the temporary reader used during the handshake and
// after a hard reset, before the Dispatcher takes over line routing.
// It buffers complete lines for the session to poll.
type lineCollector struct {
	mu    sync.Mutex
	buf   LineBuffer
	lines []string
}

func newLineCollector() *lineCollector {
	return &lineCollector{}
}

// onData is registered as a transport reader.
func (lc *lineCollector) onData(p []byte) {
	lc.mu.Lock()
	lc.lines = append(lc.lines, lc.buf.Feed(p)...)
	lc.mu.Unlock()
}

// takeLines drains and returns every buffered line.
func (lc *lineCollector) takeLines() []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lines := lc.lines
	lc.lines = nil
	return lines
}

// nextLine pops a single buffered line, if any.
func (lc *lineCollector) nextLine() (string, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if len(lc.lines) == 0 {
		return "", false
	}
	line := lc.lines[0]
	lc.lines = lc.lines[1:]
	return line, true
}
