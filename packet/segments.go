// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package packet

import (
	"io"
	"net"
)

// Segments is a message split across multiple discontiguous byte slices.
// The logical content of the message is the concatenation of the segments.
type Segments [][]byte

// Len reports the total length in bytes of s.
func (s Segments) Len() int {
	var n int
	for _, seg := range s {
		n += len(seg)
	}
	return n
}

// Join returns the concatenation of s in a single newly-allocated slice.
func (s Segments) Join() []byte {
	out := make([]byte, 0, s.Len())
	for _, seg := range s {
		out = append(out, seg...)
	}
	return out
}

// CopyTo copies the concatenation of s into buf and returns the number of
// bytes copied, which is min(len(buf), s.Len()).
func (s Segments) CopyTo(buf []byte) int {
	var n int
	for _, seg := range s {
		if n == len(buf) {
			break
		}
		n += copy(buf[n:], seg)
	}
	return n
}

// WriteTo writes the concatenation of s to w. If w is a network connection
// that supports it, the segments are written with a single vectored write.
// It satisfies io.WriterTo.
func (s Segments) WriteTo(w io.Writer) (int64, error) {
	bufs := make(net.Buffers, 0, len(s))
	for _, seg := range s {
		if len(seg) != 0 {
			bufs = append(bufs, seg)
		}
	}
	return bufs.WriteTo(w)
}
