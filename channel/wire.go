// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/packet"
)

// PacketType describes the meaning of a packet on a stream connection.
type PacketType byte

const (
	PacketData PacketType = 1 // a tagged message
	PacketBye  PacketType = 2 // the sender will send no further packets
)

func (p PacketType) String() string {
	switch p {
	case PacketData:
		return "DATA"
	case PacketBye:
		return "BYE"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(p))
	}
}

// MaxPayload is the largest message that can be sent on a stream connection.
const MaxPayload = math.MaxUint32

// headerLen is the length of an encoded packet header.
const headerLen = 16

// readChunk bounds the buffer allocated ahead of the data actually read, so
// that a corrupt or hostile length does not allocate memory up front.
const readChunk = 1 << 20

// A Packet is the unit of transmission on a stream connection.
//
// The binary encoding of a packet is a fixed 16-byte header followed by the
// payload:
//
//	'S' 'M' <version> <type> <length (4 bytes)> <tag (8 bytes)>
//
// The length and tag are big-endian unsigned integers. The version is
// currently 0.
type Packet struct {
	Type    PacketType
	Tag     smpi.Tag
	Payload packet.Segments
}

// WriteTo writes the packet to w in binary format. The header and the payload
// segments are written with a single vectored write if w supports it.
// It satisfies io.WriterTo.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	size := p.Payload.Len()
	if uint64(size) > MaxPayload {
		return 0, fmt.Errorf("payload too large (%d > %d bytes)", size, uint64(MaxPayload))
	}
	var b packet.Builder
	b.Grow(headerLen)
	b.Put('S', 'M', 0, byte(p.Type))
	b.Uint32(uint32(size))
	b.Uint64(uint64(p.Tag))
	return append(packet.Segments{b.Bytes()}, p.Payload...).WriteTo(w)
}

// ReadFrom reads a packet from r in binary format. The payload of the result
// is a single segment. It satisfies io.ReaderFrom.
func (p *Packet) ReadFrom(r io.Reader) (int64, error) {
	var hdr [headerLen]byte
	nr, err := io.ReadFull(r, hdr[:])
	if err == io.EOF {
		return 0, err // clean end of stream
	} else if err != nil {
		return int64(nr), fmt.Errorf("short packet header: %w", err)
	}
	s := packet.NewScanner(hdr[:])
	magic, _ := packet.Get[string](s, 3)
	if magic != "SM\x00" {
		return int64(nr), fmt.Errorf("invalid protocol version %q", magic)
	}
	ptype, _ := s.Byte()
	psize, _ := s.Uint32()
	tag, _ := s.Uint64()
	p.Type, p.Tag, p.Payload = PacketType(ptype), smpi.Tag(tag), nil

	if psize > 0 {
		buf, np, err := readPayload(r, int(psize))
		nr += np
		if err != nil {
			return int64(nr), fmt.Errorf("short payload: %w", err)
		}
		p.Payload = packet.Segments{buf}
	}
	return int64(nr), nil
}

// readPayload reads exactly n bytes from r. The buffer grows by at most
// readChunk bytes ahead of the data read so far.
func readPayload(r io.Reader, n int) ([]byte, int, error) {
	buf := make([]byte, 0, min(n, readChunk))
	for len(buf) < n {
		want := min(n-len(buf), readChunk)
		buf = slices.Grow(buf, want)
		np, err := io.ReadFull(r, buf[len(buf):len(buf)+want])
		buf = buf[:len(buf)+np]
		if err != nil {
			return nil, len(buf), err
		}
	}
	return buf, len(buf), nil
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet(%v, tag=%d, %d bytes)", p.Type, p.Tag, p.Payload.Len())
}
