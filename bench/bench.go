// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package bench implements point-to-point bandwidth and latency benchmarks
// between a pair of communicators, in the manner of the OSU micro-benchmarks.
//
// Each benchmark runs on two ranks: rank 0 drives the benchmark and measures
// it, while rank 1 mirrors its operations. Both ranks must run with the same
// [Config].
package bench

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/catalog"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// A Kind names a benchmark.
type Kind string

// The available benchmarks.
const (
	KindBandwidth Kind = "bw"
	KindLatency   Kind = "latency"
)

// Unit returns the unit of the values reported by k.
func (k Kind) Unit() string {
	switch k {
	case KindBandwidth:
		return "MB/s"
	case KindLatency:
		return "µs"
	}
	return "?"
}

// A Result is the measurement for one message size.
type Result struct {
	Size  int     // message size in bytes
	Count int     // elements per message
	Value float64 // in the unit of the benchmark kind
}

// tags returns the message tags used by the benchmarks.
func tags() catalog.Catalog { return catalog.New().Add("data", "ack", "ping", "pong") }

var ackMsg = []int32{0}

// A Runner runs benchmarks on one rank.
type Runner struct {
	Comm   *smpi.Comm
	Rank   int     // 0 or 1
	Config *Config // if nil, use DefaultConfig

	// Logger, if set, receives a record for each measurement.
	Logger *slog.Logger
}

func (r *Runner) config() *Config {
	if r.Config == nil {
		return DefaultConfig()
	}
	return r.Config
}

func (r *Runner) log() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Run runs the benchmark of the given kind on the configured datatype.
// On rank 0 it returns one result for each message size; on rank 1 the
// results are empty.
func (r *Runner) Run(kind Kind) ([]Result, error) {
	if err := r.config().Check(); err != nil {
		return nil, err
	}
	if r.Rank != 0 && r.Rank != 1 {
		return nil, fmt.Errorf("invalid rank %d", r.Rank)
	}
	switch dt := r.config().Datatype; dt {
	case Simple:
		return runKind(r, kind, SimpleType, SimpleData)
	case ComplexNoncompound:
		return runKind(r, kind, NoncompoundType, NoncompoundData)
	case ComplexCompound:
		return runKind(r, kind, CompoundType, CompoundData)
	default:
		return nil, fmt.Errorf("unknown datatype %q", dt)
	}
}

func runKind[T any](r *Runner, kind Kind, typ *smpi.Type[T], prepare func(int) []T) ([]Result, error) {
	switch kind {
	case KindBandwidth:
		return Bandwidth(r, typ, prepare)
	case KindLatency:
		return Latency(r, typ, prepare)
	default:
		return nil, fmt.Errorf("unknown benchmark %q", kind)
	}
}

// measure calls step for each iteration of the benchmark for one message
// size, and returns the total time of the timed calls. Each iteration calls
// step WarmupValidation times with validation enabled, followed by a final
// call without validation. Only the final calls of iterations after the first
// Skip are timed.
func (r *Runner) measure(step func(validate bool) error) (time.Duration, error) {
	cfg := r.config()
	var total time.Duration
	for i := range cfg.Iterations + cfg.Skip {
		for k := range cfg.WarmupValidation + 1 {
			start := time.Now()
			if err := step(k < cfg.WarmupValidation); err != nil {
				return 0, err
			}
			if i >= cfg.Skip && k == cfg.WarmupValidation {
				total += time.Since(start)
			}
		}
	}
	return total, nil
}

// Bandwidth runs the bandwidth benchmark. For each message size, rank 0
// sends a window of messages with non-blocking sends, and rank 1 receives
// them with non-blocking receives and replies with a short acknowledgement.
// The result is the throughput in megabytes per second.
func Bandwidth[T any](r *Runner, typ *smpi.Type[T], prepare func(int) []T) ([]Result, error) {
	cfg := r.config()
	ct := tags().Bind(r.Comm)
	var out []Result
	for _, size := range cfg.Sizes() {
		sbuf := prepare(size)
		total, err := r.measure(func(validate bool) error {
			return bandwidthStep(r, ct, typ, sbuf, validate)
		})
		if err != nil {
			return nil, fmt.Errorf("size %d: %w", size, err)
		}
		if r.Rank == 0 {
			mbps := float64(size) / 1e6 * float64(cfg.Iterations*cfg.WindowSize) / total.Seconds()
			r.log().Info("bandwidth", "size", size, "count", len(sbuf), "mbps", mbps)
			out = append(out, Result{Size: size, Count: len(sbuf), Value: mbps})
		}
	}
	return out, nil
}

func bandwidthStep[T any](r *Runner, ct catalog.Catalog, typ *smpi.Type[T], sbuf []T, validate bool) error {
	window := r.config().WindowSize
	data := ct.Tag("data")
	err := r.Comm.Scope(func(s *smpi.Scope) error {
		for range window {
			var err error
			if r.Rank == 0 {
				_, err = typ.ISend(s, sbuf, data)
			} else {
				_, err = s.IRecv(data)
			}
			if err != nil {
				return err
			}
		}
		if err := s.WaitAll(); err != nil {
			return err
		}
		if r.Rank == 0 {
			return nil
		}
		for id := range smpi.ID(window) {
			got, err := typ.DataN(s, id, len(sbuf))
			if err != nil {
				return fmt.Errorf("message %d: %w", id, err)
			}
			if validate {
				if err := check(sbuf, got); err != nil {
					return fmt.Errorf("message %d: %w", id, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if r.Rank == 0 {
		_, err = smpi.Int32.RecvN(r.Comm, ct.Tag("ack"), len(ackMsg))
	} else {
		_, err = smpi.Int32.Send(r.Comm, ackMsg, ct.Tag("ack"))
	}
	return err
}

// Latency runs the latency benchmark. For each message size, rank 0 sends a
// message and waits for rank 1 to send one of the same size back. The result
// is half the round-trip time in microseconds.
func Latency[T any](r *Runner, typ *smpi.Type[T], prepare func(int) []T) ([]Result, error) {
	cfg := r.config()
	ping, pong := tags().Tag("ping"), tags().Tag("pong")
	var out []Result
	for _, size := range cfg.Sizes() {
		sbuf := prepare(size)
		total, err := r.measure(func(validate bool) error {
			if r.Rank == 0 {
				if _, err := typ.Send(r.Comm, sbuf, ping); err != nil {
					return err
				}
				return recvCheck(r.Comm, typ, pong, sbuf, validate)
			}
			if err := recvCheck(r.Comm, typ, ping, sbuf, validate); err != nil {
				return err
			}
			_, err := typ.Send(r.Comm, sbuf, pong)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("size %d: %w", size, err)
		}
		if r.Rank == 0 {
			usec := total.Seconds() * 1e6 / float64(2*cfg.Iterations)
			r.log().Info("latency", "size", size, "count", len(sbuf), "usec", usec)
			out = append(out, Result{Size: size, Count: len(sbuf), Value: usec})
		}
	}
	return out, nil
}

func recvCheck[T any](c *smpi.Comm, typ *smpi.Type[T], tag smpi.Tag, want []T, validate bool) error {
	got, err := typ.RecvN(c, tag, len(want))
	if err != nil {
		return err
	} else if validate {
		return check(want, got)
	}
	return nil
}

// check reports an error if got differs from want.
func check[T any](want, got []T) error {
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		return fmt.Errorf("validation failed (-want, +got):\n%s", diff)
	}
	return nil
}

// WriteResults writes a table of results for the given benchmark kind to w.
func WriteResults(w io.Writer, kind Kind, rs []Result) error {
	tw := tabwriter.NewWriter(w, 4, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "# Size\tCount\t%s (%s)\t\n", kind, kind.Unit())
	for _, r := range rs {
		fmt.Fprintf(tw, "%d\t%d\t%.2f\t\n", r.Size, r.Count, r.Value)
	}
	return tw.Flush()
}
