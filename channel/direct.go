// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/packet"
)

// DefaultEagerLimit is the default size threshold for eager sends by a
// direct endpoint.
const DefaultEagerLimit = 64 << 10

// DirectOptions are optional settings for the endpoints constructed by
// [Direct]. A nil *DirectOptions is ready for use and provides defaults.
type DirectOptions struct {
	// Messages up to EagerLimit bytes are copied when a send starts, and the
	// send completes without waiting for the receiver. Larger messages are
	// held by reference, and the send completes only once the receiver has
	// copied the data. If EagerLimit is zero, DefaultEagerLimit is used; if
	// it is negative, all sends wait for the receiver.
	EagerLimit int

	// Latency is the number of additional polls of the fabric required
	// before a transfer that is ready is reported complete.
	Latency int
}

func (o *DirectOptions) eagerLimit() int {
	if o == nil || o.EagerLimit == 0 {
		return DefaultEagerLimit
	}
	return o.EagerLimit
}

func (o *DirectOptions) latency() uint64 {
	if o == nil || o.Latency <= 0 {
		return 0
	}
	return uint64(o.Latency)
}

// Direct constructs a connected pair of in-memory endpoints that pass
// messages directly without encoding into binary. Messages sent to A are
// received by B and vice versa.
//
// Both endpoints share a single progress clock, advanced by each call to
// Poll on either endpoint. The endpoints are safe for concurrent use.
func Direct(opts *DirectOptions) (A, B *DirectEndpoint) {
	f := &fabric{eager: opts.eagerLimit(), delay: opts.latency()}
	A, B = newDirectEndpoint(f), newDirectEndpoint(f)
	A.peer, B.peer = B, A
	return
}

// fabric is the shared state of a pair of direct endpoints.
type fabric struct {
	μ      sync.Mutex
	eager  int
	delay  uint64
	clock  uint64 // advanced by each Poll
	nextID uint64 // next unused message ID
}

// A DirectEndpoint is one side of an in-memory connection created by
// [Direct]. It implements the smpi.Endpoint interface.
type DirectEndpoint struct {
	f    *fabric
	peer *DirectEndpoint

	// All fields below are protected by f.μ.
	inbox   map[smpi.Tag]*queue.Queue[*message]
	claimed map[uint64]*message // reserved by Probe
	ops     map[smpi.Handle]*op
	nexth   smpi.Handle
	closed  bool
}

var _ smpi.Endpoint = (*DirectEndpoint)(nil)

func newDirectEndpoint(f *fabric) *DirectEndpoint {
	return &DirectEndpoint{
		f:       f,
		inbox:   make(map[smpi.Tag]*queue.Queue[*message]),
		claimed: make(map[uint64]*message),
		ops:     make(map[smpi.Handle]*op),
	}
}

func (e *DirectEndpoint) newOpLocked() (smpi.Handle, *op) {
	e.nexth++
	o := new(op)
	e.ops[e.nexth] = o
	return e.nexth, o
}

// StartSend implements a method of the [smpi.Endpoint] interface.
func (e *DirectEndpoint) StartSend(segs [][]byte, tag smpi.Tag) (smpi.Handle, error) {
	e.f.μ.Lock()
	defer e.f.μ.Unlock()
	if e.closed {
		return 0, net.ErrClosed
	}

	h, o := e.newOpLocked()
	if e.peer.closed {
		o.fail(StatusClosed, net.ErrClosed)
		return h, nil
	}

	e.f.nextID++
	msg := &message{id: e.f.nextID, tag: tag, size: packet.Segments(segs).Len()}
	if msg.size <= e.f.eager {
		msg.data = packet.Segments{packet.Segments(segs).Join()}
		o.complete(msg.size, e.f.clock+e.f.delay)
	} else {
		msg.data = segs
		msg.send = o
	}

	q, ok := e.peer.inbox[tag]
	if !ok {
		q = queue.New[*message]()
		e.peer.inbox[tag] = q
	}
	q.Add(msg)
	return h, nil
}

// Probe implements a method of the [smpi.Endpoint] interface. Messages the
// peer sent before it closed remain available; once none are left for tag,
// Probe reports [net.ErrClosed].
func (e *DirectEndpoint) Probe(tag smpi.Tag) (smpi.Match, bool, error) {
	e.f.μ.Lock()
	defer e.f.μ.Unlock()
	if e.closed {
		return smpi.Match{}, false, net.ErrClosed
	}
	if q, ok := e.inbox[tag]; ok {
		if msg, ok := q.Pop(); ok {
			e.claimed[msg.id] = msg
			return smpi.Match{Tag: tag, Size: msg.size, ID: msg.id}, true, nil
		}
	}
	if e.peer.closed {
		return smpi.Match{}, false, fmt.Errorf("peer closed: %w", net.ErrClosed)
	}
	return smpi.Match{}, false, nil
}

// StartRecv implements a method of the [smpi.Endpoint] interface.
func (e *DirectEndpoint) StartRecv(buf []byte, m smpi.Match) (smpi.Handle, error) {
	e.f.μ.Lock()
	defer e.f.μ.Unlock()
	if e.closed {
		return 0, net.ErrClosed
	}
	msg, ok := e.claimed[m.ID]
	if !ok {
		return 0, fmt.Errorf("no reserved message with ID %d", m.ID)
	} else if len(buf) != msg.size {
		return 0, fmt.Errorf("buffer size %d does not match message size %d", len(buf), msg.size)
	}
	delete(e.claimed, m.ID)

	ready := e.f.clock + e.f.delay
	msg.data.CopyTo(buf)
	if msg.send != nil {
		msg.send.complete(msg.size, ready)
	}
	h, o := e.newOpLocked()
	o.complete(msg.size, ready)
	return h, nil
}

// Poll implements a method of the [smpi.Endpoint] interface.
func (e *DirectEndpoint) Poll(h smpi.Handle) smpi.Status {
	e.f.μ.Lock()
	defer e.f.μ.Unlock()
	e.f.clock++

	o, ok := e.ops[h]
	if !ok {
		return smpi.Status{
			State: smpi.Failed,
			Code:  StatusUnknownHandle,
			Err:   fmt.Errorf("unknown handle %d", h),
		}
	}
	if o.done && e.f.clock >= o.ready {
		return o.status
	}
	return smpi.Status{State: smpi.Pending}
}

// Release implements a method of the [smpi.Endpoint] interface.
func (e *DirectEndpoint) Release(h smpi.Handle) {
	e.f.μ.Lock()
	defer e.f.μ.Unlock()
	delete(e.ops, h)
}

// Close implements a method of the [smpi.Endpoint] interface.
// Sends from the peer that are waiting for e to receive them fail, as do
// sends from e that are waiting for the peer.
func (e *DirectEndpoint) Close() error {
	e.f.μ.Lock()
	defer e.f.μ.Unlock()
	if e.closed {
		return net.ErrClosed
	}
	e.closed = true

	failPending := func(msg *message) {
		if msg.send != nil {
			msg.send.fail(StatusClosed, errors.New("receiver closed"))
		}
	}
	for _, q := range e.inbox {
		for {
			msg, ok := q.Pop()
			if !ok {
				break
			}
			failPending(msg)
		}
	}
	for _, msg := range e.claimed {
		failPending(msg)
	}
	clear(e.inbox)
	clear(e.claimed)

	for _, o := range e.ops {
		o.fail(StatusClosed, net.ErrClosed)
	}
	return nil
}
