// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import "fmt"

// A Tag is an application-chosen key used to match sends to receives.
// Messages sent with the same tag between the same ordered pair of peers are
// received in the order they were sent.
type Tag uint64

// A Handle identifies an in-flight operation of an [Endpoint].
type Handle uint64

// State is the progress state of an operation.
type State byte

const (
	Pending  State = iota // still in flight
	Complete              // finished successfully
	Failed                // finished with an error
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state %d", byte(s))
	}
}

// Status is the result of polling an operation handle.
type Status struct {
	State State
	Bytes int   // bytes transferred, when State == Complete
	Code  int   // transport-specific status, when State == Failed
	Err   error // optional detail, when State == Failed
}

// A Match describes a waiting message found by [Endpoint.Probe].
type Match struct {
	Tag  Tag
	Size int    // payload length in bytes
	ID   uint64 // transport message identifier
}

// An Endpoint is the non-blocking transport interface that a [Comm] drives.
//
// An Endpoint is connected to a single remote peer. Progress of all its
// in-flight operations is advanced only by calls to Poll; a single call to
// Poll may advance operations other than the one it reports on.
//
// Endpoint methods are not required to be safe for concurrent use by
// multiple goroutines.
type Endpoint interface {
	// StartSend begins sending the concatenation of segs as one message with
	// the given tag. The endpoint may retain segs until the operation is
	// complete, so the caller must not modify them until then.
	StartSend(segs [][]byte, tag Tag) (Handle, error)

	// Probe checks whether a message with the given tag is waiting. If so, it
	// reports a Match describing the oldest such message and reserves that
	// message for a subsequent StartRecv; otherwise it reports false.
	// Probe does not transfer any message data.
	Probe(tag Tag) (Match, bool, error)

	// StartRecv begins receiving the message reserved by m into buf, which
	// must be exactly m.Size bytes long.
	StartRecv(buf []byte, m Match) (Handle, error)

	// Poll advances the progress of the endpoint and reports the status of
	// the operation identified by h. Polling an unknown handle reports a
	// failure.
	Poll(h Handle) Status

	// Release discards the resources associated with h. Release is a no-op
	// for an unknown or already-released handle.
	Release(h Handle)

	// Close closes the endpoint. Operations still in flight fail.
	Close() error
}
