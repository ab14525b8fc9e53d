// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a mapping from mnemonic string names to message
// tags for use with an smpi.Comm. Names are not exchanged between peers on
// the wire, but a Catalog can be encoded and sent from one peer to another in
// a message.
//
// # Usage
//
// Construct a new empty catalog and add names to it:
//
//	cat := catalog.New().Add("ping", "pong", "ack")
//
// Add assigns tags to the specified names. To recover the assigned tag use
// the Lookup method:
//
//	tag := cat.Lookup("ping")
//
// If you want to choose the tag, use Set:
//
//	cat.Set("config", 125)
//
// Tags are assigned systematically, so that repeating the same sequence of
// Add and Set calls will always result in the same tags.
//
// To associate a catalog with a specific communicator, use Bind. This creates
// a copy of the catalog sharing the same names but a (possibly) different
// communicator:
//
//	ca := cat.Bind(comm)
//	ca.Send("ping", segs)
//	data, err := ca.Recv("pong")
//
// Note that Send and Recv will panic if given a name not registered with the
// catalog.
//
// A catalog can send itself to the remote peer, and the peer can receive it:
//
//	cat.Set("catalog", 1)
//	err := cat.Bind(comm1).Publish("catalog")
//
//	got, err := catalog.Receive(comm2, 1)
package catalog

import (
	"fmt"
	"maps"
	"slices"

	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/packet"
)

// A Catalog associates a communicator with a static mapping from names to
// message tags for use with that communicator.
type Catalog struct {
	comm *smpi.Comm
	tags map[string]smpi.Tag
}

// New creates a new empty, unbound catalog to map names to tags. It is safe
// to copy the resulting value, all copies share a reference to the same name
// to tag mapping.
func New() Catalog { return Catalog{tags: make(map[string]smpi.Tag)} }

// Add adds the specified names to c with fresh positive tags, and returns c
// to allow chaining.
func (c Catalog) Add(names ...string) Catalog {
	for _, name := range names {
		c.Set(name, c.pickUnusedTag())
	}
	return c
}

// Set maps name to tag in c, and return c to allow chaining. If name was
// already mapped in c, the existing mapping is replaced.
//
// The name mapping of a catalog is shared among all copies of it. It is not
// safe to call Set while c is used concurrently by other goroutines without
// external synchronization.
func (c Catalog) Set(name string, tag smpi.Tag) Catalog {
	c.tags[name] = tag
	return c
}

func (c Catalog) pickUnusedTag() smpi.Tag {
	var max smpi.Tag
	for _, tag := range c.tags {
		if tag > max {
			max = tag
		}
	}
	return max + 1
}

// Bind returns a copy of c bound to the specified communicator.
func (c Catalog) Bind(comm *smpi.Comm) Catalog { return Catalog{comm: comm, tags: c.tags} }

// Comm returns the communicator associated with c, or nil if c is unbound.
func (c Catalog) Comm() *smpi.Comm { return c.comm }

// Names returns the names defined in c in lexicographic order.
func (c Catalog) Names() []string { return slices.Sorted(maps.Keys(c.tags)) }

// Lookup returns the tag assigned to name, or 0.
//
// Note that the caller may Set a name with tag 0, but assigned tags will
// always be positive, so a return value of 0 means name was not assigned a
// tag even if it is a valid mapping for the catalog.
func (c Catalog) Lookup(name string) smpi.Tag { return c.tags[name] }

// Tag returns the tag assigned to name. It panics if name is not known.
func (c Catalog) Tag(name string) smpi.Tag {
	tag, ok := c.tags[name]
	if !ok {
		panic(fmt.Sprintf("tag %q not known", name))
	}
	return tag
}

// Send sends the concatenation of segs on the tag bound to name.
// Send will panic if c is not bound to a communicator, or if name is not
// known by the catalog.
func (c Catalog) Send(name string, segs [][]byte) (int, error) {
	return c.comm.Send(segs, c.Tag(name))
}

// Recv receives a message on the tag bound to name.
// Recv will panic if c is not bound to a communicator, or if name is not
// known by the catalog.
func (c Catalog) Recv(name string) ([]byte, error) {
	return c.comm.Recv(c.Tag(name))
}

// Encode encodes c in binary format.
//
// The wire format of the catalog comprises the defined names in
// lexicographic order, each followed by its tag. Each name is encoded as a
// big-endian uint64 length followed by that many bytes of the name. Each tag
// is encoded as a big-endian uint64.
func (c Catalog) Encode() []byte {
	if len(c.tags) == 0 {
		return nil
	}
	var b packet.Builder
	for _, name := range c.Names() {
		b.VPut([]byte(name))
		b.Uint64(uint64(c.tags[name]))
	}
	return b.Bytes()
}

// Decode decodes data as a Catalog payload.
func (c *Catalog) Decode(data []byte) error {
	if c.tags == nil {
		c.tags = make(map[string]smpi.Tag)
	} else {
		clear(c.tags)
	}
	s := packet.NewScanner(data)
	for s.Len() != 0 {
		off := s.Offset()
		name, err := packet.VGet[string](s)
		if err != nil {
			return fmt.Errorf("truncated name at offset %d", off)
		}
		tag, err := s.Uint64()
		if err != nil {
			return fmt.Errorf("truncated tag for %q at offset %d", name, s.Offset())
		}
		c.tags[name] = smpi.Tag(tag)
	}
	return nil
}

// Publish sends the encoded contents of c to the remote peer on the tag
// bound to name.
// Publish will panic if c is not bound to a communicator, or if name is not
// known by the catalog.
func (c Catalog) Publish(name string) error {
	_, err := smpi.Bytes.Send(c.comm, c.Encode(), c.Tag(name))
	return err
}

// Receive receives a catalog published by the remote peer of comm on the
// given tag, and returns it bound to comm.
func Receive(comm *smpi.Comm, tag smpi.Tag) (Catalog, error) {
	data, err := smpi.Bytes.Recv(comm, tag)
	if err != nil {
		return Catalog{}, err
	}
	var cat Catalog
	if err := cat.Decode(data); err != nil {
		return Catalog{}, err
	}
	return cat.Bind(comm), nil
}
