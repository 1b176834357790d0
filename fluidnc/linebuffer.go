// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package fluidnc

import "bytes"

// LineBuffer accumulates raw incoming bytes and splits them into
// complete lines. The line boundary is '\n'; carriage returns are
// stripped. Bytes after the last newline are retained and emitted once
// a future chunk completes the line.
//
// Feed scans each incoming byte exactly once (index-based, no repeated
// substring searches), so total cost is O(total bytes) regardless of
// chunking.
type LineBuffer struct {
	partial []byte
}

// Feed appends a chunk and returns the complete lines it produced.
func (lb *LineBuffer) Feed(p []byte) []string {
	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(p[start:], '\n')
		if i < 0 {
			break
		}
		line := p[start : start+i]
		if len(lb.partial) > 0 {
			line = append(lb.partial, line...)
			lb.partial = nil
		}
		lines = append(lines, string(stripCR(line)))
		start += i + 1
	}
	lb.partial = append(lb.partial, p[start:]...)
	return lines
}

// Partial returns the unterminated tail carried over from Feed.
func (lb *LineBuffer) Partial() string {
	return string(stripCR(lb.partial))
}

// Reset discards any buffered partial line.
func (lb *LineBuffer) Reset() {
	lb.partial = nil
}

func stripCR(b []byte) []byte {
	if bytes.IndexByte(b, '\r') < 0 {
		return b
	}
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != '\r' {
			out = append(out, c)
		}
	}
	return out
}
