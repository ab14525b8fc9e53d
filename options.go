// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package smpi

import (
	"log/slog"
	"runtime"

	"github.com/tebeka/atexit"
)

// DefaultPollBurst is the default number of consecutive progress calls made
// for each pending request on each pass of a wait.
const DefaultPollBurst = 16

// Options are optional settings for a [Comm]. A nil *Options is ready for
// use and provides default values as described.
type Options struct {
	// PollBurst is the number of consecutive Progress calls made on a pending
	// request during one pass of a wait loop before moving on.
	// If PollBurst ≤ 0, DefaultPollBurst is used.
	PollBurst int

	// MaxPolls, if positive, bounds the number of passes a blocking wait will
	// make before it gives up and reports a timeout error.
	// If MaxPolls ≤ 0, waits are unbounded.
	MaxPolls int

	// Yield, if set, is called between passes of a wait loop.
	// If nil, runtime.Gosched is used.
	Yield func()

	// Logger, if set, receives debug logs of communicator activity.
	// If nil, logs are discarded.
	Logger *slog.Logger

	// Abort is called when a scope exits with requests still pending. If
	// Abort returns, the scope reports err to its caller.
	// If nil, the error is logged and the process exits with status 1 after
	// running exit handlers.
	Abort func(err error)
}

func (o *Options) pollBurst() int {
	if o == nil || o.PollBurst <= 0 {
		return DefaultPollBurst
	}
	return o.PollBurst
}

func (o *Options) maxPolls() int {
	if o == nil || o.MaxPolls <= 0 {
		return 0
	}
	return o.MaxPolls
}

func (o *Options) yield() func() {
	if o == nil || o.Yield == nil {
		return runtime.Gosched
	}
	return o.Yield
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o *Options) abort(log *slog.Logger) func(error) {
	if o != nil && o.Abort != nil {
		return o.Abort
	}
	return func(err error) {
		log.Error("aborting", "error", err)
		atexit.Fatalf("smpi: %v", err)
	}
}
