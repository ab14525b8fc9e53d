package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/bench"
	"github.com/creachadair/smpi/packet"
)

// An elementType describes a known element type for packing and decoding.
type elementType struct {
	name   string
	id     uint64
	pack   func(args []string) (packet.Segments, error) // nil if not packable
	decode func(data []byte) (int, string, error)       // count and text of the elements
}

var knownTypes = []elementType{
	numeric("int32", smpi.Int32, func(s string) (int32, error) {
		v, err := strconv.ParseInt(s, 0, 32)
		return int32(v), err
	}),
	numeric("int64", smpi.Int64, func(s string) (int64, error) {
		return strconv.ParseInt(s, 0, 64)
	}),
	numeric("uint64", smpi.Uint64, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 0, 64)
	}),
	numeric("float32", smpi.Float32, func(s string) (float32, error) {
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	}),
	numeric("float64", smpi.Float64, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}),
	{
		name: "bytes",
		id:   smpi.Bytes.ID(),
		pack: func(args []string) (packet.Segments, error) {
			return smpi.Bytes.Encode([]byte(strings.Join(args, "")))
		},
		decode: func(data []byte) (int, string, error) {
			vs, err := smpi.Bytes.Decode(data, -1)
			return len(vs), strconv.Quote(string(vs)), err
		},
	},
	opaque("complex-noncompound", bench.NoncompoundType),
	opaque("complex-compound", bench.CompoundType),
}

func numeric[T any](name string, typ *smpi.Type[T], parse func(string) (T, error)) elementType {
	return elementType{
		name: name,
		id:   typ.ID(),
		pack: func(args []string) (packet.Segments, error) {
			vs := make([]T, len(args))
			for i, arg := range args {
				v, err := parse(arg)
				if err != nil {
					return nil, fmt.Errorf("argument %d: invalid %s: %w", i+1, name, err)
				}
				vs[i] = v
			}
			return typ.Encode(vs)
		},
		decode: opaque(name, typ).decode,
	}
}

func opaque[T any](name string, typ *smpi.Type[T]) elementType {
	return elementType{
		name: name,
		id:   typ.ID(),
		decode: func(data []byte) (int, string, error) {
			vs, err := typ.Decode(data, -1)
			if err != nil {
				return 0, "", err
			}
			return len(vs), fmt.Sprintf("%+v", vs), nil
		},
	}
}

// typeByID returns the known type whose frames have the given ID.
func typeByID(id uint64) (elementType, bool) {
	for _, et := range knownTypes {
		if et.id == id {
			return et, true
		}
	}
	return elementType{}, false
}

func typeByName(name string) (elementType, bool) {
	for _, et := range knownTypes {
		if et.name == name {
			return et, true
		}
	}
	return elementType{}, false
}

func runPack(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing type argument")
	}
	et, ok := typeByName(env.Args[0])
	if !ok || et.pack == nil {
		return fmt.Errorf("unknown or unpackable type %q", env.Args[0])
	}
	segs, err := et.pack(env.Args[1:])
	if err != nil {
		return err
	}
	_, err = segs.WriteTo(os.Stdout)
	return err
}

func runFrame(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("extra arguments after command")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	return describeFrame(os.Stdout, data)
}

// describeFrame writes a description of the frame in data to w.
func describeFrame(w io.Writer, data []byte) error {
	hdr, rest, err := smpi.ParseHeader(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "type:    %016x\n", hdr.Type)
	fmt.Fprintf(w, "count:   %d\n", hdr.Count)
	fmt.Fprintf(w, "payload: %d bytes\n", len(rest))

	et, ok := typeByID(hdr.Type)
	if !ok {
		fmt.Fprintln(w, "element: unknown")
		return nil
	}
	fmt.Fprintf(w, "element: %s\n", et.name)
	n, text, err := et.decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", et.name, err)
	}
	fmt.Fprintf(w, "values:  %d %s\n", n, text)
	return nil
}
