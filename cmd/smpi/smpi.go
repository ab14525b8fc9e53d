// Program smpi is a command-line utility for running point-to-point
// benchmarks and inspecting smpi message frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/bench"
	"github.com/creachadair/smpi/channel"
	"github.com/creachadair/smpi/peers"
	"github.com/creachadair/taskgroup"
	"github.com/tebeka/atexit"
)

var benchFlags struct {
	Config string `flag:"config,Benchmark configuration file (YAML)"`
	Rank   int    `flag:"rank,default=-1,Rank of this process, 0 or 1 (default $SMPI_RANK)"`
	Addr   string `flag:"addr,Address to listen on (rank 0) or dial (rank 1) (default $SMPI_ADDR)"`
	Local  bool   `flag:"local,Run both ranks in this process over an in-memory channel"`
	DB     string `flag:"db,Record results in this SQLite database"`
	Debug  bool   `flag:"debug,Enable debug logging"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for running and inspecting smpi communicators.",
		Commands: []*command.C{
			{
				Name:     "bench",
				Help:     "Run point-to-point benchmarks.",
				SetFlags: command.Flags(flax.MustBind, &benchFlags),
				Commands: []*command.C{
					{
						Name: "bw",
						Help: `Run the bandwidth benchmark.

For each message size, rank 0 sends a window of messages with non-blocking
sends, and rank 1 receives them and replies with an acknowledgement. The
reported value is the throughput in megabytes per second.` + benchHelp,
						Run: runBench(bench.KindBandwidth),
					},
					{
						Name: "latency",
						Help: `Run the latency benchmark.

For each message size, rank 0 sends a message and rank 1 sends it back. The
reported value is half the round-trip time in microseconds.` + benchHelp,
						Run: runBench(bench.KindLatency),
					},
				},
			},
			{
				Name:  "pack",
				Usage: "<type> <value>...",
				Help: `Pack values into a message frame.

The values are parsed according to the type, and the encoded frame is
written to stdout. The supported types are:

  bytes    : each argument is a literal string; the strings are concatenated
  int32    : signed 32-bit integers
  int64    : signed 64-bit integers
  uint64   : unsigned 64-bit integers
  float32  : 32-bit floating point values
  float64  : 64-bit floating point values
`,
				Run: runPack,
			},
			{
				Name: "frame",
				Help: `Decode a message frame from stdin.

The frame header is printed, followed by the decoded elements if the type ID
matches a known element type.`,
				Run: runFrame,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	env := root.NewEnv(nil).MergeFlags(true)
	command.RunOrFail(env, os.Args[1:])
	atexit.Exit(0)
}

const benchHelp = `

By default, rank 0 listens at --addr and rank 1 dials it. The address may be
"host:port" for TCP, a path for a Unix-domain socket, or "vsock:cid:port".
With --local, both ranks run in this process.

The configuration file is YAML with these fields:

  min_size, max_size  : range of message sizes in bytes (doubled each step)
  window_size         : messages per window (bw only)
  iterations          : timed iterations per size
  skip                : untimed iterations per size
  warmup_validation   : validated repeats before each timed iteration
  datatype            : simple, complex-noncompound, or complex-compound`

func logger() *slog.Logger {
	level := slog.LevelWarn
	if benchFlags.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// rankAndAddr returns the rank and peer address from the flags, falling back
// to the environment.
func rankAndAddr() (int, string, error) {
	rank, addr := benchFlags.Rank, benchFlags.Addr
	if rank < 0 {
		s, ok := os.LookupEnv("SMPI_RANK")
		if !ok {
			return 0, "", errors.New("no rank specified (use --rank or set SMPI_RANK)")
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, "", fmt.Errorf("invalid SMPI_RANK: %w", err)
		}
		rank = v
	}
	if rank != 0 && rank != 1 {
		return 0, "", fmt.Errorf("rank must be 0 or 1 (got %d)", rank)
	}
	if addr == "" {
		addr = os.Getenv("SMPI_ADDR")
	}
	if addr == "" {
		return 0, "", errors.New("no address specified (use --addr or set SMPI_ADDR)")
	}
	return rank, addr, nil
}

// connect establishes the communicator for the given rank. Rank 0 accepts a
// single connection at addr; rank 1 dials addr, retrying until the listener
// is ready or ctx ends.
func connect(ctx context.Context, rank int, addr string, opts *smpi.Options) (*smpi.Comm, error) {
	if rank == 0 {
		lst, err := channel.Listen(addr)
		if err != nil {
			return nil, err
		}
		defer lst.Close()
		opts.Logger.Info("waiting for peer", "addr", lst.Addr())
		ep, err := peers.NetAccepter(lst).Accept(ctx)
		if err != nil {
			return nil, err
		}
		return smpi.New(ep, opts), nil
	}
	for {
		c, err := peers.Connect(ctx, addr, opts)
		if err == nil {
			return c, nil
		}
		opts.Logger.Debug("dial failed, retrying", "addr", addr, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %q: %w", addr, err)
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func runBench(kind bench.Kind) func(*command.Env) error {
	return func(env *command.Env) error {
		if len(env.Args) != 0 {
			return env.Usagef("extra arguments after command")
		}
		cfg := bench.DefaultConfig()
		if benchFlags.Config != "" {
			var err error
			cfg, err = bench.LoadConfig(benchFlags.Config)
			if err != nil {
				return err
			}
		}
		log := logger()
		opts := &smpi.Options{Logger: log}

		var results []bench.Result
		rank := 0
		if benchFlags.Local {
			loc := peers.NewLocal(opts, nil)
			defer loc.Stop()

			peer := taskgroup.Go(func() error {
				_, err := (&bench.Runner{Comm: loc.B, Rank: 1, Config: cfg, Logger: log}).Run(kind)
				return err
			})
			rs, err := (&bench.Runner{Comm: loc.A, Rank: 0, Config: cfg, Logger: log}).Run(kind)
			if perr := peer.Wait(); err == nil {
				err = perr
			}
			if err != nil {
				return err
			}
			results = rs
		} else {
			r, addr, err := rankAndAddr()
			if err != nil {
				return env.Usagef("%v", err)
			}
			rank = r
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			c, err := connect(ctx, rank, addr, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			log.Info("connected", "rank", rank, "addr", addr)

			results, err = (&bench.Runner{Comm: c, Rank: rank, Config: cfg, Logger: log}).Run(kind)
			if err != nil {
				return err
			}
		}
		if rank != 0 {
			return nil
		}

		if err := bench.WriteResults(os.Stdout, kind, results); err != nil {
			return err
		}
		if benchFlags.DB != "" {
			rec, err := bench.OpenRecorder(benchFlags.DB)
			if err != nil {
				return fmt.Errorf("open results: %w", err)
			}
			defer rec.Close()
			if err := rec.Record(kind, cfg, results); err != nil {
				return fmt.Errorf("record results: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Recorded run %s in %s\n", rec.RunID(), benchFlags.DB)
		}
		return nil
	}
}
