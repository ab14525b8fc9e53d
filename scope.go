// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import (
	"fmt"
	"net"
	"slices"

	"github.com/rs/xid"
)

// An ID identifies a request issued within a [Scope].
type ID int

// A Scope is a session of overlapping non-blocking operations, created by
// [Comm.Scope]. Every request issued within a scope must reach a terminal
// state before the scope exits.
//
// Buffers passed to ISend are retained by the transport until the
// corresponding request completes, and must not be modified until then.
type Scope struct {
	comm   *Comm
	id     xid.ID
	reqs   []*Request
	closed bool
}

// String returns the unique identifier of s.
func (s *Scope) String() string { return s.id.String() }

// ISend starts sending the concatenation of segs as one message with the
// given tag, and returns the ID of the request.
func (s *Scope) ISend(segs [][]byte, tag Tag) (ID, error) {
	if s.closed {
		return -1, net.ErrClosed
	}
	r, err := s.comm.ISend(segs, tag)
	if err != nil {
		return -1, err
	}
	return s.add(r), nil
}

// IRecv starts receiving a message with the given tag, and returns the ID of
// the request.
func (s *Scope) IRecv(tag Tag) (ID, error) {
	if s.closed {
		return -1, net.ErrClosed
	}
	r, err := s.comm.IRecv(tag)
	if err != nil {
		return -1, err
	}
	return s.add(r), nil
}

func (s *Scope) add(r *Request) ID {
	s.reqs = append(s.reqs, r)
	return ID(len(s.reqs) - 1)
}

// Request returns the request with the given ID. It panics if id was not
// issued by s.
func (s *Scope) Request(id ID) *Request {
	if id < 0 || int(id) >= len(s.reqs) {
		panic(fmt.Sprintf("smpi: request ID %d not issued by scope %v", id, s.id))
	}
	return s.reqs[id]
}

// Len reports the number of requests issued within s.
func (s *Scope) Len() int { return len(s.reqs) }

// Pending reports the number of requests in s that have not reached a
// terminal state.
func (s *Scope) Pending() int {
	var n int
	for _, r := range s.reqs {
		if !r.Done() {
			n++
		}
	}
	return n
}

// Progress performs one non-blocking check of the request with the given ID.
func (s *Scope) Progress(id ID) (State, error) { return s.Request(id).Progress() }

// Data returns the message received by the request with the given ID.
func (s *Scope) Data(id ID) ([]byte, error) { return s.Request(id).Data() }

// WaitAll polls the requests with the given IDs until all of them are
// complete, or until one fails. If no IDs are given, WaitAll waits for every
// request issued within s.
//
// Because polling the transport may advance any in-flight operation, the
// requests are polled round-robin, with a burst of consecutive polls for
// each pending request on every pass. If the communicator has a poll limit
// and the requests are not finished within it, WaitAll reports an error with
// CodeTimeout.
func (s *Scope) WaitAll(ids ...ID) error {
	if len(ids) == 0 {
		ids = make([]ID, len(s.reqs))
		for i := range ids {
			ids[i] = ID(i)
		}
	} else {
		ids = slices.Clone(ids)
	}
	for _, id := range ids {
		s.Request(id) // check validity
	}

	c := s.comm
	pending := ids
	for pass := 0; len(pending) != 0; pass++ {
		next := pending[:0]
		for _, id := range pending {
			r := s.reqs[id]
			st, err := Pending, error(nil)
			for range c.burst {
				if st, err = r.Progress(); st != Pending {
					break
				}
			}
			if st == Failed {
				return fmt.Errorf("request %d (tag %d): %w", id, r.tag, err)
			} else if st == Pending {
				next = append(next, id)
			}
		}
		pending = next
		if len(pending) == 0 {
			break
		}
		if c.max > 0 && pass+1 >= c.max {
			c.ep.cm.waitTimeout.Add(1)
			return errorf(CodeTimeout, "%d requests still pending after %d passes", len(pending), pass+1)
		}
		c.yield()
	}
	return nil
}

// Close closes s. It reports an error if any request issued within s has not
// reached a terminal state. Calling Close on a closed scope is a no-op.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	n := s.Pending()
	s.comm.Close()
	if n != 0 {
		return errorf(CodeInternal, "scope %v exited with %d requests still in progress", s.id, n)
	}
	return nil
}
