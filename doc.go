// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package smpi implements typed point-to-point message passing between two
// peers over a non-blocking transport.
//
// Peers exchange tagged messages through a [Comm]. Messages with the same tag
// sent from one peer to the other are received in the order they were sent.
// Each message carries a small header giving the type and number of the
// elements it contains, so that a receiver can reject a message whose shape
// differs from what it expects.
//
// # Endpoints
//
// A Comm drives an [Endpoint], which provides non-blocking send, probe, and
// receive operations on a connection to the remote peer. The channel package
// provides implementations of this interface.
//
// To create a communicator:
//
//	c := smpi.New(ep, nil) // nil means default options
//	defer c.Close()
//
// A communicator is not safe for concurrent use, but [Comm.Dup] returns an
// independent communicator sharing the same endpoint.
//
// # Requests
//
// Every operation is a [Request] that makes progress only when its Progress
// method is called. Blocking operations such as [Comm.Send] and [Comm.Recv]
// start a single request and poll it until it finishes:
//
//	n, err := smpi.Int32.Send(c, []int32{1, 2, 3, 4}, 0)
//	...
//	vs, err := smpi.Int32.RecvN(c, 0, 4)
//
// # Types
//
// A [Type] describes how elements of a Go type are encoded. Use [Fixed] for
// fixed-size types without pointers, which are sent without copying; use
// [Trailing] for records with a fixed head and a variable-length tail; use
// [Marshaled] for types that implement their own binary encoding.
//
// The binary format of a message is a [Header] followed by the encoded
// elements:
//
//	[type id (8 bytes)][count (8 bytes)][payload]
//
// # Scopes
//
// To overlap several non-blocking operations, use [Comm.Scope]:
//
//	err := c.Scope(func(s *smpi.Scope) error {
//	   a, err := smpi.Float64.ISend(s, buf, 1)
//	   if err != nil {
//	      return err
//	   }
//	   b, err := s.IRecv(2)
//	   if err != nil {
//	      return err
//	   }
//	   return s.WaitAll(a, b)
//	})
//
// The buffers passed to ISend must not be modified until their requests
// complete. Every request issued within a scope must be finished before the
// scope function returns: a scope that exits with pending requests aborts the
// program (see [Options]).
package smpi
