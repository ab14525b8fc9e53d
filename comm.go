// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import (
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/rs/xid"
)

// sharedEndpoint is an endpoint shared by a Comm and its duplicates.
// The endpoint is closed when the last reference is released.
type sharedEndpoint struct {
	Endpoint
	refs atomic.Int64
	cm   *commMetrics
}

// A Comm is a communicator connected to a single remote peer through an
// [Endpoint]. All blocking operations of a Comm are built by polling exactly
// one non-blocking operation to completion.
//
// A Comm is not safe for concurrent use by multiple goroutines; use Dup to
// obtain an independent communicator sharing the same endpoint.
type Comm struct {
	ep *sharedEndpoint

	burst int
	max   int
	yield func()
	log   *slog.Logger
	abort func(error)

	closed atomic.Bool
}

// New constructs a communicator that drives ep. A nil opts provides default
// settings. The communicator takes ownership of ep, and closes it when the
// communicator and all its duplicates are closed.
func New(ep Endpoint, opts *Options) *Comm {
	log := opts.logger()
	sep := &sharedEndpoint{Endpoint: ep, cm: newCommMetrics()}
	sep.refs.Store(1)
	return &Comm{
		ep:    sep,
		burst: opts.pollBurst(),
		max:   opts.maxPolls(),
		yield: opts.yield(),
		log:   log,
		abort: opts.abort(log),
	}
}

// Dup returns a new communicator sharing the endpoint and settings of c.
// The duplicate has its own lifetime, and must be closed separately.
func (c *Comm) Dup() *Comm {
	if c.closed.Load() {
		panic("smpi: Dup of a closed communicator")
	}
	c.ep.refs.Add(1)
	return &Comm{
		ep:    c.ep,
		burst: c.burst,
		max:   c.max,
		yield: c.yield,
		log:   c.log,
		abort: c.abort,
	}
}

// Close releases c's reference to its endpoint. When the last communicator
// sharing the endpoint is closed, the endpoint is closed too.
// Closing an already-closed communicator reports [net.ErrClosed].
func (c *Comm) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	if c.ep.refs.Add(-1) == 0 {
		return c.ep.Close()
	}
	return nil
}

// Metrics returns a metrics map for c. The map is shared by all duplicates
// of the same communicator. The caller is responsible for publishing it, if
// desired.
func (c *Comm) Metrics() *expvar.Map { return c.ep.cm.emap }

// ISend starts sending the concatenation of segs as one message with the
// given tag. The caller must not modify segs until the request is complete.
func (c *Comm) ISend(segs [][]byte, tag Tag) (*Request, error) {
	if c.closed.Load() {
		return nil, net.ErrClosed
	}
	r, err := newSend(c.ep.Endpoint, c.ep.cm, segs, tag)
	if err != nil {
		return nil, err
	}
	c.log.Debug("start send", "tag", tag, "segments", len(segs))
	return r, nil
}

// IRecv starts receiving a message with the given tag.
func (c *Comm) IRecv(tag Tag) (*Request, error) {
	if c.closed.Load() {
		return nil, net.ErrClosed
	}
	c.log.Debug("start receive", "tag", tag)
	return newRecv(c.ep.Endpoint, c.ep.cm, tag), nil
}

// Wait polls r until it reaches a terminal state, and reports the error from
// a failed request. If c has a poll limit and r does not finish within it,
// Wait reports an error with CodeTimeout and r remains pending.
func (c *Comm) Wait(r *Request) error {
	for pass := 0; ; pass++ {
		for range c.burst {
			st, err := r.Progress()
			if st != Pending {
				c.log.Debug("request done", "tag", r.tag, "state", st, "bytes", r.nbytes)
				return err
			}
		}
		if c.max > 0 && pass+1 >= c.max {
			c.ep.cm.waitTimeout.Add(1)
			return errorf(CodeTimeout, "tag %d still pending after %d polls", r.tag, (pass+1)*c.burst)
		}
		c.yield()
	}
}

// Send sends the concatenation of segs as one message with the given tag,
// and blocks until the transport reports it complete. It returns the number
// of bytes sent.
func (c *Comm) Send(segs [][]byte, tag Tag) (int, error) {
	r, err := c.ISend(segs, tag)
	if err != nil {
		return 0, err
	}
	if err := c.Wait(r); err != nil {
		return 0, err
	}
	return r.Bytes(), nil
}

// Recv blocks until a message with the given tag has been received, and
// returns its contents.
func (c *Comm) Recv(tag Tag) ([]byte, error) {
	r, err := c.IRecv(tag)
	if err != nil {
		return nil, err
	}
	if err := c.Wait(r); err != nil {
		return nil, err
	}
	return r.Data()
}

// Scope calls f with a new [Scope] over a duplicate of c, and closes the
// scope when f returns. It reports the error from f, if any.
//
// If any request issued within the scope is still pending when f returns,
// or when a panic propagates out of f, the communicator's abort hook is
// called (see [Options]). By default this terminates the process.
func (c *Comm) Scope(f func(*Scope) error) (err error) {
	if c.closed.Load() {
		return net.ErrClosed
	}
	s := &Scope{comm: c.Dup(), id: xid.New()}
	c.ep.cm.scopeOpened.Add(1)
	c.log.Debug("scope open", "scope", s.id)

	defer func() {
		if x := recover(); x != nil {
			if cerr := s.Close(); cerr != nil {
				c.ep.cm.scopeAborted.Add(1)
				c.abort(fmt.Errorf("panic in scope %v: %v: %w", s.id, x, cerr))
			}
			panic(x)
		}
	}()

	ferr := f(s)
	if cerr := s.Close(); cerr != nil {
		c.ep.cm.scopeAborted.Add(1)
		c.abort(cerr)
		return cerr
	}
	c.log.Debug("scope closed", "scope", s.id, "requests", len(s.reqs))
	return ferr
}
