// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/packet"
	"github.com/creachadair/taskgroup"
)

// Stream constructs an endpoint that exchanges packets over rwc, which is
// typically a network connection. The endpoint owns rwc, and closes it when
// the endpoint is closed.
//
// Inbound packets are read by a background goroutine, and outbound messages
// are written by another, so that operations started on the endpoint make
// progress without blocking the caller. The endpoint is safe for concurrent
// use.
func Stream(rwc io.ReadWriteCloser) *StreamEndpoint {
	e := &StreamEndpoint{
		rwc:     rwc,
		reader:  taskgroup.New(nil),
		writer:  taskgroup.New(nil),
		inbox:   make(map[smpi.Tag]*queue.Queue[*message]),
		claimed: make(map[uint64]*message),
		ops:     make(map[smpi.Handle]*op),
		sendq:   queue.New[*outbound](),
		ready:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	e.reader.Go(e.readLoop)
	e.writer.Go(e.writeLoop)
	return e
}

// A StreamEndpoint is an endpoint that exchanges packets over a byte stream.
// It implements the smpi.Endpoint interface.
type StreamEndpoint struct {
	rwc    io.ReadWriteCloser
	reader *taskgroup.Group
	writer *taskgroup.Group
	ready  chan struct{} // signals the writer that sendq is non-empty
	stop   chan struct{} // closed when the endpoint closes

	μ       sync.Mutex
	inbox   map[smpi.Tag]*queue.Queue[*message]
	claimed map[uint64]*message // reserved by Probe
	ops     map[smpi.Handle]*op
	sendq   *queue.Queue[*outbound]
	nexth   smpi.Handle
	nextID  uint64
	rerr    error // the read side has failed or ended
	closed  bool
}

var _ smpi.Endpoint = (*StreamEndpoint)(nil)

// An outbound is a message waiting to be written.
type outbound struct {
	tag  smpi.Tag
	segs packet.Segments
	op   *op
}

func (e *StreamEndpoint) newOpLocked() (smpi.Handle, *op) {
	e.nexth++
	o := new(op)
	e.ops[e.nexth] = o
	return e.nexth, o
}

// readLoop reads packets from the stream and queues them by tag until the
// stream fails or the endpoint is closed.
func (e *StreamEndpoint) readLoop() error {
	r := bufio.NewReader(e.rwc)
	for {
		var pkt Packet
		_, err := pkt.ReadFrom(r)
		if err == nil {
			switch pkt.Type {
			case PacketData:
				e.deliver(&pkt)
				continue
			case PacketBye:
				err = io.EOF
			default:
				err = fmt.Errorf("unknown packet type %v", pkt.Type)
			}
		}
		e.μ.Lock()
		if e.rerr == nil {
			e.rerr = err
		}
		e.μ.Unlock()
		return nil
	}
}

func (e *StreamEndpoint) deliver(pkt *Packet) {
	e.μ.Lock()
	defer e.μ.Unlock()
	e.nextID++
	msg := &message{id: e.nextID, tag: pkt.Tag, size: pkt.Payload.Len(), data: pkt.Payload}
	q, ok := e.inbox[pkt.Tag]
	if !ok {
		q = queue.New[*message]()
		e.inbox[pkt.Tag] = q
	}
	q.Add(msg)
}

// writeLoop writes queued messages to the stream until the endpoint closes.
func (e *StreamEndpoint) writeLoop() error {
	for {
		select {
		case <-e.stop:
			return nil
		case <-e.ready:
		}
		for {
			e.μ.Lock()
			out, ok := e.sendq.Pop()
			e.μ.Unlock()
			if !ok {
				break
			}
			pkt := &Packet{Type: PacketData, Tag: out.tag, Payload: out.segs}
			_, err := pkt.WriteTo(e.rwc)

			e.μ.Lock()
			if err != nil {
				out.op.fail(statusCode(err), err)
			} else {
				out.op.complete(out.segs.Len(), 0)
			}
			e.μ.Unlock()
		}
	}
}

// statusCode returns a transport status code for err.
func statusCode(err error) int {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return StatusClosed
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return StatusIOError
}

// StartSend implements a method of the [smpi.Endpoint] interface.
// The message is written by a background goroutine, and the send is
// complete once the whole message has been written to the stream.
func (e *StreamEndpoint) StartSend(segs [][]byte, tag smpi.Tag) (smpi.Handle, error) {
	if n := packet.Segments(segs).Len(); uint64(n) > MaxPayload {
		return 0, fmt.Errorf("message too large (%d > %d bytes)", n, uint64(MaxPayload))
	}
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.closed {
		return 0, net.ErrClosed
	}
	h, o := e.newOpLocked()
	e.sendq.Add(&outbound{tag: tag, segs: segs, op: o})
	select {
	case e.ready <- struct{}{}:
	default:
		// The writer has already been signaled.
	}
	return h, nil
}

// Probe implements a method of the [smpi.Endpoint] interface.
// If no matching message is waiting and the read side of the stream has
// ended, Probe reports an error, since no further messages can arrive.
func (e *StreamEndpoint) Probe(tag smpi.Tag) (smpi.Match, bool, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.closed {
		return smpi.Match{}, false, net.ErrClosed
	}
	if q, ok := e.inbox[tag]; ok {
		if msg, ok := q.Pop(); ok {
			e.claimed[msg.id] = msg
			return smpi.Match{Tag: tag, Size: msg.size, ID: msg.id}, true, nil
		}
	}
	if e.rerr != nil {
		return smpi.Match{}, false, fmt.Errorf("connection lost: %w", e.rerr)
	}
	return smpi.Match{}, false, nil
}

// StartRecv implements a method of the [smpi.Endpoint] interface.
// Messages are read from the stream in full before they can be probed, so
// the receive is complete as soon as it starts.
func (e *StreamEndpoint) StartRecv(buf []byte, m smpi.Match) (smpi.Handle, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
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
	msg.data.CopyTo(buf)

	h, o := e.newOpLocked()
	o.complete(msg.size, 0)
	return h, nil
}

// Poll implements a method of the [smpi.Endpoint] interface.
func (e *StreamEndpoint) Poll(h smpi.Handle) smpi.Status {
	e.μ.Lock()
	defer e.μ.Unlock()
	o, ok := e.ops[h]
	if !ok {
		return smpi.Status{
			State: smpi.Failed,
			Code:  StatusUnknownHandle,
			Err:   fmt.Errorf("unknown handle %d", h),
		}
	} else if o.done {
		return o.status
	}
	return smpi.Status{State: smpi.Pending}
}

// Release implements a method of the [smpi.Endpoint] interface.
func (e *StreamEndpoint) Release(h smpi.Handle) {
	e.μ.Lock()
	defer e.μ.Unlock()
	delete(e.ops, h)
}

// Close implements a method of the [smpi.Endpoint] interface. Close notifies
// the remote peer, closes the underlying stream, and waits for the background
// goroutines to exit. Sends that have not been written fail.
func (e *StreamEndpoint) Close() error {
	e.μ.Lock()
	if e.closed {
		e.μ.Unlock()
		return net.ErrClosed
	}
	e.closed = true
	e.μ.Unlock()

	close(e.stop)
	e.writer.Wait()

	// Best effort: the peer may already be gone.
	(&Packet{Type: PacketBye}).WriteTo(e.rwc)
	err := e.rwc.Close()
	e.reader.Wait()

	e.μ.Lock()
	defer e.μ.Unlock()
	for {
		out, ok := e.sendq.Pop()
		if !ok {
			break
		}
		out.op.fail(StatusClosed, net.ErrClosed)
	}
	for _, o := range e.ops {
		o.fail(StatusClosed, net.ErrClosed)
	}
	return err
}
