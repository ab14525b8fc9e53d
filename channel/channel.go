// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the smpi.Endpoint interface.
//
// A [DirectEndpoint] connects two communicators in the same process without
// encoding messages. A [StreamEndpoint] exchanges packets over a byte stream,
// such as a network connection, and is typically constructed by [Dial] or by
// wrapping a connection accepted from a [Listen] listener.
package channel

import (
	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/packet"
)

// Transport status codes reported in the Code field of a failed smpi.Status.
const (
	StatusClosed        = 1 // the connection was closed
	StatusUnknownHandle = 2 // the handle is not known to the endpoint
	StatusIOError       = 3 // a read or write failed
)

// A message is a send in flight between endpoints.
type message struct {
	id   uint64
	tag  smpi.Tag
	size int
	data packet.Segments
	send *op // if non-nil, completed when the message is delivered
}

// An op is the state of one operation handle.
type op struct {
	status smpi.Status
	done   bool   // status is final
	ready  uint64 // clock value at which a done status is reported
}

func (o *op) complete(nbytes int, ready uint64) {
	if !o.done {
		o.status = smpi.Status{State: smpi.Complete, Bytes: nbytes}
		o.done, o.ready = true, ready
	}
}

func (o *op) fail(code int, err error) {
	if !o.done {
		o.status = smpi.Status{State: smpi.Failed, Code: code, Err: err}
		o.done, o.ready = true, 0
	}
}

