// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for connecting and testing
// communicators.
package peers

import (
	"context"
	"errors"
	"net"

	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/channel"
	"github.com/creachadair/taskgroup"
)

// Local is a pair of in-memory connected communicators, suitable for testing.
type Local struct {
	A *smpi.Comm
	B *smpi.Comm
}

// Stop closes both communicators.
func (p *Local) Stop() error {
	aerr := p.A.Close()
	berr := p.B.Close()
	if aerr != nil {
		return aerr
	}
	return berr
}

// NewLocal creates a pair of in-memory connected communicators that
// communicate via a direct channel without encoding. The options, which may
// be nil, apply to both.
func NewLocal(opts *smpi.Options, dopts *channel.DirectOptions) *Local {
	a, b := channel.Direct(dopts)
	return &Local{
		A: smpi.New(a, opts),
		B: smpi.New(b, opts),
	}
}

// NewPipe creates a pair of communicators connected by stream endpoints over
// an in-memory full-duplex pipe. Unlike NewLocal, messages are encoded in
// binary as they would be on a network connection.
func NewPipe(opts *smpi.Options) *Local {
	c1, c2 := net.Pipe()
	return &Local{
		A: smpi.New(channel.Stream(c1), opts),
		B: smpi.New(channel.Stream(c2), opts),
	}
}

// An Accepter accepts connections from remote peers.
type Accepter interface {
	Accept(context.Context) (smpi.Endpoint, error)
}

// Loop accepts connections from acc and calls run with a new communicator for
// each one in a goroutine. The communicator is closed when run returns.
// Loop continues until acc closes or ctx ends.
//
// When ctx terminates, the listener is closed, and Loop waits for running
// sessions to exit before returning. Loop reports the first error returned
// by run, if any.
func Loop(ctx context.Context, acc Accepter, opts *smpi.Options, run func(context.Context, *smpi.Comm) error) error {
	g := taskgroup.New(nil)
	for {
		ep, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			if werr := g.Wait(); werr != nil && err == nil {
				err = werr
			}
			return err
		}

		g.Go(func() error {
			c := smpi.New(ep, opts)
			defer c.Close()
			return run(ctx, c)
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (smpi.Endpoint, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.Stream(conn), nil
}

// Connect connects to a peer listening at addr and returns a communicator
// for the connection. The network is chosen by [channel.SplitAddress].
func Connect(ctx context.Context, addr string, opts *smpi.Options) (*smpi.Comm, error) {
	ep, err := channel.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return smpi.New(ep, opts), nil
}
