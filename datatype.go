// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"reflect"
	"strings"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/creachadair/smpi/packet"
)

// A Type describes how values of type T are encoded as message elements.
// Each Type has a 64-bit ID, carried in the header of every frame it encodes,
// that identifies the element type. A receiver rejects a frame whose type ID
// does not match the Type it expects.
//
// Use [Fixed], [Trailing], or [Marshaled] to construct a Type.
type Type[T any] struct {
	name string
	id   uint64
	size int // encoded size of one element, or -1 if variable
	min  int // minimum encoded size of one element

	bools []uintptr // offsets of bool values within a fixed-size element

	encode func(vs []T) (packet.Segments, error)
	decode func(s *packet.Scanner, vs []T) error
}

// Predefined types for common element values.
var (
	Bytes   = Fixed[byte]()
	Int32   = Fixed[int32]()
	Int64   = Fixed[int64]()
	Uint64  = Fixed[uint64]()
	Float32 = Fixed[float32]()
	Float64 = Fixed[float64]()
)

// ID reports the type ID of t.
func (t *Type[T]) ID() uint64 { return t.id }

// Size reports the encoded size in bytes of one element of t, or -1 if the
// elements of t vary in size.
func (t *Type[T]) Size() int { return t.size }

func (t *Type[T]) String() string { return fmt.Sprintf("%s#%016x", t.name, t.id) }

// Encode encodes vs as a frame, returned as a sequence of segments whose
// concatenation is the complete message. Segments may alias the contents of
// vs, so the caller must not modify vs while the segments are in use.
func (t *Type[T]) Encode(vs []T) (packet.Segments, error) {
	payload, err := t.encode(vs)
	if err != nil {
		return nil, wrapError(CodeSerialize, err)
	}
	hdr := Header{Type: t.id, Count: uint64(len(vs))}.Encode()
	return append(packet.Segments{hdr}, payload...), nil
}

// Decode decodes a complete frame from data. If count ≥ 0, the frame must
// contain exactly that many elements. Decode reports an error with
// CodeTypeMismatch if the frame has a different type ID than t, and an error
// with CodeCountMismatch if the element count is wrong.
func (t *Type[T]) Decode(data []byte, count int) ([]T, error) {
	hdr, rest, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if err := hdr.Check(t.id, count); err != nil {
		return nil, err
	}
	if t.min > 0 && hdr.Count > uint64(len(rest)/t.min) {
		return nil, errorf(CodeDeserialize, "%d elements cannot fit in %d bytes", hdr.Count, len(rest))
	} else if hdr.Count > math.MaxInt32 {
		return nil, errorf(CodeDeserialize, "element count %d out of range", hdr.Count)
	}
	out := make([]T, int(hdr.Count))
	s := packet.NewScanner(rest)
	if err := t.decode(s, out); err != nil {
		return nil, wrapError(CodeDeserialize, err)
	}
	if s.Len() != 0 {
		return nil, errorf(CodeDeserialize, "%d unused bytes after %d elements", s.Len(), len(out))
	}
	return out, nil
}

// Send sends vs as one message with the given tag on c, and blocks until the
// send is complete. It returns the number of bytes sent.
func (t *Type[T]) Send(c *Comm, vs []T, tag Tag) (int, error) {
	segs, err := t.Encode(vs)
	if err != nil {
		return 0, err
	}
	return c.Send(segs, tag)
}

// Recv blocks until a message with the given tag is received on c, and
// decodes its elements.
func (t *Type[T]) Recv(c *Comm, tag Tag) ([]T, error) { return t.RecvN(c, tag, -1) }

// RecvN is as Recv, but reports an error with CodeCountMismatch unless the
// message contains exactly n elements. If n < 0, any count is accepted.
func (t *Type[T]) RecvN(c *Comm, tag Tag, n int) ([]T, error) {
	data, err := c.Recv(tag)
	if err != nil {
		return nil, err
	}
	return t.decodeFor(c, data, n)
}

// ISend starts sending vs as one message with the given tag within s, and
// returns the ID of the request. The caller must not modify vs until the
// request is complete.
func (t *Type[T]) ISend(s *Scope, vs []T, tag Tag) (ID, error) {
	segs, err := t.Encode(vs)
	if err != nil {
		return -1, err
	}
	return s.ISend(segs, tag)
}

// Data decodes the message received by the request with the given ID in s.
// It reports [ErrNotComplete] if the request has not completed.
func (t *Type[T]) Data(s *Scope, id ID) ([]T, error) { return t.DataN(s, id, -1) }

// DataN is as Data, but reports an error with CodeCountMismatch unless the
// message contains exactly n elements. If n < 0, any count is accepted.
func (t *Type[T]) DataN(s *Scope, id ID, n int) ([]T, error) {
	data, err := s.Data(id)
	if err != nil {
		return nil, err
	}
	return t.decodeFor(s.comm, data, n)
}

// Messages returns an iterator over the messages received on c with the
// given tag. Each message is received with a blocking call. The iterator
// ends after the first error, which it yields along with a nil slice.
func (t *Type[T]) Messages(c *Comm, tag Tag) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		for {
			vs, err := t.Recv(c, tag)
			if !yield(vs, err) || err != nil {
				return
			}
		}
	}
}

func (t *Type[T]) decodeFor(c *Comm, data []byte, n int) ([]T, error) {
	vs, err := t.Decode(data, n)
	if err != nil {
		c.ep.cm.frameRejected.Add(1)
		c.log.Debug("frame rejected", "type", t.name, "error", err)
		return nil, err
	}
	return vs, nil
}

// fixedTypes caches the Type values constructed by Fixed.
var fixedTypes sync.Map // reflect.Type → *Type[T]

// Fixed returns a Type for T, which must be a fixed-size type containing no
// pointers: a boolean or numeric type, or an array or struct of such types.
// It panics if T does not satisfy these requirements. Decoding reports an
// error if a boolean is encoded as anything other than 0 or 1.
//
// Elements are sent as their in-memory representation, without copying, so
// a sender and receiver must agree on the byte order of the host; the byte
// order is included in the type ID.
func Fixed[T any]() *Type[T] {
	rt := reflect.TypeFor[T]()
	if v, ok := fixedTypes.Load(rt); ok {
		return v.(*Type[T])
	}
	desc, err := describe(rt)
	if err != nil {
		panic(fmt.Sprintf("smpi: %v", err))
	}
	size := int(rt.Size())
	bools := boolOffsets(rt, 0, nil)
	t := &Type[T]{
		name:  rt.String(),
		id:    typeID("fixed", desc, true),
		size:  size,
		min:   size,
		bools: bools,
		encode: func(vs []T) (packet.Segments, error) {
			return packet.Segments{bytesOf(vs)}, nil
		},
		decode: func(s *packet.Scanner, vs []T) error {
			raw, err := packet.Get[[]byte](s, len(vs)*size)
			if err != nil {
				return err
			} else if err := checkBools(raw, size, bools); err != nil {
				return err
			}
			copy(bytesOf(vs), raw)
			return nil
		},
	}
	v, _ := fixedTypes.LoadOrStore(rt, t)
	return v.(*Type[T])
}

// Trailing returns a Type for T, a record comprising a fixed-size head of
// type H and a variable-length tail of elements of type E. The split
// function must return pointers to the head and tail of its argument.
// H and E must satisfy the requirements of [Fixed].
//
// Each element is encoded as the bytes of its head, followed by the length
// in bytes of its tail as a big-endian uint64, followed by the bytes of the
// tail. The head and tail segments of each element are sent without copying.
func Trailing[T, H, E any](split func(*T) (*H, *[]E)) *Type[T] {
	head, elt := Fixed[H](), Fixed[E]()
	hsize, esize := head.size, elt.size
	rt := reflect.TypeFor[T]()
	name := rt.String()
	return &Type[T]{
		name: name,
		id:   typeID("trailing", name+"{"+head.name+"#"+hexID(head.id)+"; []"+elt.name+"#"+hexID(elt.id)+"}", true),
		size: -1,
		min:  hsize + 8,
		encode: func(vs []T) (packet.Segments, error) {
			segs := make(packet.Segments, 0, 3*len(vs))
			lens := make([]byte, 8*len(vs))
			for i := range vs {
				h, tail := split(&vs[i])
				n := lens[8*i : 8*i+8]
				binary.BigEndian.PutUint64(n, uint64(len(*tail)*esize))
				segs = append(segs, bytesOf(unsafe.Slice(h, 1)), n, bytesOf(*tail))
			}
			return segs, nil
		},
		decode: func(s *packet.Scanner, vs []T) error {
			for i := range vs {
				h, tail := split(&vs[i])
				hb, err := packet.Get[[]byte](s, hsize)
				if err != nil {
					return fmt.Errorf("element %d head: %w", i, err)
				} else if err := checkBools(hb, hsize, head.bools); err != nil {
					return fmt.Errorf("element %d head: %w", i, err)
				}
				copy(bytesOf(unsafe.Slice(h, 1)), hb)

				tb, err := packet.VGet[[]byte](s)
				if err != nil {
					return fmt.Errorf("element %d tail: %w", i, err)
				}
				if len(tb) == 0 {
					*tail = nil
					continue
				} else if esize == 0 {
					return fmt.Errorf("element %d tail: %d bytes for zero-size elements", i, len(tb))
				} else if len(tb)%esize != 0 {
					return fmt.Errorf("element %d tail: %d bytes is not a multiple of %d", i, len(tb), esize)
				} else if err := checkBools(tb, esize, elt.bools); err != nil {
					return fmt.Errorf("element %d tail: %w", i, err)
				}
				*tail = make([]E, len(tb)/esize)
				copy(bytesOf(*tail), tb)
			}
			return nil
		},
	}
}

// Marshaled returns a Type for T, whose values encode themselves in binary.
// Each element is encoded as the length of its binary encoding as a
// big-endian uint64, followed by the encoding.
func Marshaled[T encoding.BinaryMarshaler, P interface {
	*T
	encoding.BinaryUnmarshaler
}]() *Type[T] {
	name := reflect.TypeFor[T]().String()
	return &Type[T]{
		name: name,
		id:   typeID("marshaled", name, false),
		size: -1,
		min:  8,
		encode: func(vs []T) (packet.Segments, error) {
			var b packet.Builder
			for i, v := range vs {
				data, err := v.MarshalBinary()
				if err != nil {
					return nil, &Error{Code: CodeSerialize, Message: fmt.Sprintf("element %d", i), Err: err}
				}
				b.VPut(data)
			}
			return packet.Segments{b.Bytes()}, nil
		},
		decode: func(s *packet.Scanner, vs []T) error {
			for i := range vs {
				data, err := packet.VGet[[]byte](s)
				if err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
				if err := P(&vs[i]).UnmarshalBinary(data); err != nil {
					return fmt.Errorf("element %d: %w", i, err)
				}
			}
			return nil
		},
	}
}

// bytesOf returns a view of the memory of vs as bytes.
func bytesOf[T any](vs []T) []byte {
	if len(vs) == 0 {
		return nil
	}
	n := len(vs) * int(unsafe.Sizeof(vs[0]))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(vs))), n)
}

// hostOrder is the name of the byte order of the host.
var hostOrder = func() string {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return "le"
	}
	return "be"
}()

// typeID computes a type ID from a descriptor string. If native is true, the
// byte order of the host is included.
func typeID(kind, desc string, native bool) uint64 {
	d := xxhash.New()
	d.WriteString(kind)
	d.WriteString(":")
	d.WriteString(desc)
	if native {
		d.WriteString("/" + hostOrder)
	}
	return d.Sum64()
}

func hexID(id uint64) string { return fmt.Sprintf("%016x", id) }

// describe returns a structural descriptor for a fixed-size type without
// pointers, or an error if rt is not such a type.
func describe(rt reflect.Type) (string, error) {
	var sb strings.Builder
	if err := describeInto(&sb, rt); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func describeInto(sb *strings.Builder, rt reflect.Type) error {
	if rt.Name() != "" {
		sb.WriteString(rt.Name())
		sb.WriteString("=")
	}
	switch rt.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		fmt.Fprintf(sb, "%s/%d", rt.Kind(), rt.Size())
		return nil

	case reflect.Array:
		fmt.Fprintf(sb, "[%d]", rt.Len())
		return describeInto(sb, rt.Elem())

	case reflect.Struct:
		fmt.Fprintf(sb, "struct/%d{", rt.Size())
		for i := range rt.NumField() {
			f := rt.Field(i)
			if i > 0 {
				sb.WriteString("; ")
			}
			fmt.Fprintf(sb, "%s@%d ", f.Name, f.Offset)
			if err := describeInto(sb, f.Type); err != nil {
				return err
			}
		}
		sb.WriteString("}")
		return nil
	}
	return fmt.Errorf("type %v is not a fixed-size type without pointers", rt)
}

// boolOffsets appends to out the offsets of the bool values within a value
// of type rt stored at offset base.
func boolOffsets(rt reflect.Type, base uintptr, out []uintptr) []uintptr {
	switch rt.Kind() {
	case reflect.Bool:
		return append(out, base)

	case reflect.Array:
		inner := boolOffsets(rt.Elem(), 0, nil)
		if len(inner) == 0 {
			return out
		}
		esize := rt.Elem().Size()
		for i := range uintptr(rt.Len()) {
			for _, off := range inner {
				out = append(out, base+i*esize+off)
			}
		}

	case reflect.Struct:
		for i := range rt.NumField() {
			f := rt.Field(i)
			out = boolOffsets(f.Type, base+f.Offset, out)
		}
	}
	return out
}

// checkBools reports an error if any bool in raw, a sequence of elements of
// the given size with bools at offsets, is not encoded as 0 or 1.
func checkBools(raw []byte, size int, offsets []uintptr) error {
	if len(offsets) == 0 || size == 0 {
		return nil
	}
	for i := 0; i+size <= len(raw); i += size {
		for _, off := range offsets {
			if b := raw[i+int(off)]; b > 1 {
				return fmt.Errorf("element %d: invalid bool encoding %d at offset %d", i/size, b, off)
			}
		}
	}
	return nil
}
