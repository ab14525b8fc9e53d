// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import (
	"fmt"

	"github.com/creachadair/smpi/packet"
)

// HeaderLen is the length in bytes of an encoded frame [Header].
const HeaderLen = 16

// A Header is the self-describing envelope at the front of every typed
// message. A frame consists of a header followed by the payload.
//
// The binary encoding of a header is:
//
//	[type id (8 bytes)][element count (8 bytes)]
//
// with both values stored as big-endian unsigned integers.
type Header struct {
	Type  uint64 // the ID of the element type
	Count uint64 // the number of elements in the payload
}

// Encode encodes h in binary format.
func (h Header) Encode() []byte {
	var b packet.Builder
	b.Grow(HeaderLen)
	b.Uint64(h.Type)
	b.Uint64(h.Count)
	return b.Bytes()
}

func (h Header) String() string {
	return fmt.Sprintf("Header(type=%016x, count=%d)", h.Type, h.Count)
}

// ParseHeader parses a header from the front of data, and returns the header
// along with the remaining payload.
func ParseHeader(data []byte) (Header, []byte, error) {
	s := packet.NewScanner(data)
	typ, err := s.Uint64()
	if err != nil {
		return Header{}, nil, &Error{Code: CodeDeserialize, Message: "short frame header", Err: err}
	}
	count, err := s.Uint64()
	if err != nil {
		return Header{}, nil, &Error{Code: CodeDeserialize, Message: "short frame header", Err: err}
	}
	return Header{Type: typ, Count: count}, s.Rest(), nil
}

// Check reports whether h describes a message of the given type ID and
// element count. If count < 0, any count is accepted.
func (h Header) Check(typeID uint64, count int) error {
	if h.Type != typeID {
		return errorf(CodeTypeMismatch, "got type %016x, want %016x", h.Type, typeID)
	}
	if count >= 0 && h.Count != uint64(count) {
		return errorf(CodeCountMismatch, "got %d elements, want %d", h.Count, count)
	}
	return nil
}
