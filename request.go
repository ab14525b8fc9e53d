// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import "fmt"

// phase is the internal progress phase of a request.
type phase byte

const (
	phaseProbe phase = iota // receive: waiting for a matching message
	phaseWait               // handle started, polling for completion
	phaseDone               // terminal
)

// A Request is a single non-blocking send or receive operation.
//
// The state of a request changes only when its Progress method is called.
// Once a request reaches a terminal state (Complete or Failed), further calls
// to Progress report that same state without consulting the transport.
//
// A Request is not safe for concurrent use by multiple goroutines.
type Request struct {
	ep   Endpoint
	cm   *commMetrics
	send bool
	tag  Tag

	phase phase
	h     Handle
	live  bool // h refers to an unreleased transport operation

	segs [][]byte // send: retained until the handle is released
	buf  []byte   // receive: filled by the transport

	state  State
	nbytes int
	err    error
}

func newSend(ep Endpoint, cm *commMetrics, segs [][]byte, tag Tag) (*Request, error) {
	h, err := ep.StartSend(segs, tag)
	if err != nil {
		return nil, &Error{Code: CodeFailedRequest, Status: -1, Message: "start send", Err: err}
	}
	cm.sendStarted.Add(1)
	cm.reqPending.Add(1)
	return &Request{ep: ep, cm: cm, send: true, tag: tag, phase: phaseWait, h: h, live: true, segs: segs}, nil
}

func newRecv(ep Endpoint, cm *commMetrics, tag Tag) *Request {
	cm.recvStarted.Add(1)
	cm.reqPending.Add(1)
	return &Request{ep: ep, cm: cm, tag: tag, phase: phaseProbe}
}

// Progress performs one non-blocking check of the transport for r, and
// reports the resulting state. If the state is Failed, the error reports why.
//
// For a receive that has not yet matched a message, Progress probes for one
// and, if found, starts the transfer into a buffer of exactly the message
// size; the request remains Pending until that transfer completes.
func (r *Request) Progress() (State, error) {
	switch r.phase {
	case phaseDone:
		return r.state, r.err

	case phaseProbe:
		m, ok, err := r.ep.Probe(r.tag)
		if err != nil {
			return r.fail(&Error{Code: CodeFailedRequest, Status: -1, Message: "probe", Err: err})
		} else if !ok {
			r.cm.probeMiss.Add(1)
			return Pending, nil
		}
		buf := make([]byte, m.Size)
		h, err := r.ep.StartRecv(buf, m)
		if err != nil {
			return r.fail(&Error{Code: CodeFailedRequest, Status: -1, Message: "start receive", Err: err})
		}
		r.buf, r.h, r.live, r.phase = buf, h, true, phaseWait
		return Pending, nil

	case phaseWait:
		if !r.live {
			return r.fail(errorf(CodeInternal, "request for tag %d has no live handle", r.tag))
		}
		r.cm.pollCalls.Add(1)
		st := r.ep.Poll(r.h)
		switch st.State {
		case Pending:
			return Pending, nil
		case Complete:
			r.release()
			r.nbytes = st.Bytes
			if r.send {
				r.cm.bytesSent.Add(int64(st.Bytes))
			} else {
				r.cm.bytesRecv.Add(int64(st.Bytes))
			}
			r.phase, r.state = phaseDone, Complete
			r.cm.reqPending.Add(-1)
			r.cm.reqComplete.Add(1)
			return Complete, nil
		case Failed:
			r.release()
			return r.fail(failedRequest(st))
		default:
			return r.fail(errorf(CodeInternal, "invalid transport state %v", st.State))
		}
	}
	panic(fmt.Sprintf("invalid request phase %d", r.phase))
}

// fail records err as the terminal failure of r.
func (r *Request) fail(err error) (State, error) {
	r.phase, r.state, r.err = phaseDone, Failed, err
	r.buf = nil
	r.cm.reqPending.Add(-1)
	r.cm.reqFailed.Add(1)
	return Failed, err
}

func (r *Request) release() {
	if r.live {
		r.ep.Release(r.h)
		r.live = false
		r.segs = nil
	}
}

// Tag reports the tag of r.
func (r *Request) Tag() Tag { return r.tag }

// IsSend reports whether r is a send request.
func (r *Request) IsSend() bool { return r.send }

// State reports the most recently observed state of r without polling.
func (r *Request) State() State { return r.state }

// Done reports whether r has reached a terminal state.
func (r *Request) Done() bool { return r.phase == phaseDone }

// Err reports the error that caused r to fail, or nil.
func (r *Request) Err() error { return r.err }

// Bytes reports the number of bytes transferred by r once it is complete.
func (r *Request) Bytes() int { return r.nbytes }

// Data reports the message received by r. It returns [ErrNotComplete] if r
// has not completed, and an error if r is not a receive or r failed.
// The caller must not modify the returned slice.
func (r *Request) Data() ([]byte, error) {
	switch {
	case r.send:
		return nil, errorf(CodeInternal, "request for tag %d is a send", r.tag)
	case r.state == Failed:
		return nil, r.err
	case r.state != Complete:
		return nil, ErrNotComplete
	}
	return r.buf, nil
}
