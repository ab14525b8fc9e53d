// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package bench_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/bench"
	"github.com/creachadair/smpi/channel"
	"github.com/creachadair/smpi/peers"
	"github.com/creachadair/taskgroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := bench.ParseConfig([]byte(`
min_size: 8
max_size: 64
window_size: 16
iterations: 5
datatype: complex-compound
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MinSize)
	assert.Equal(t, 64, cfg.MaxSize)
	assert.Equal(t, 16, cfg.WindowSize)
	assert.Equal(t, 5, cfg.Iterations)
	assert.Equal(t, bench.ComplexCompound, cfg.Datatype)
	assert.Equal(t, bench.DefaultConfig().Skip, cfg.Skip)
	assert.Equal(t, []int{8, 16, 32, 64}, cfg.Sizes())

	empty, err := bench.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, bench.DefaultConfig(), empty)

	for _, bad := range []string{
		"datatype: fancy\n",
		"min_size: 0\n",
		"min_size: 100\nmax_size: 10\n",
		"iterations: -1\n",
		"nonesuch: 1\n",
		"window_size: [1, 2]\n",
	} {
		cfg, err := bench.ParseConfig([]byte(bad))
		assert.Errorf(t, err, "ParseConfig(%q): got %+v", bad, cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bw.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datatype: simple\nwarmup_validation: 3\n"), 0600))

	cfg, err := bench.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, bench.Simple, cfg.Datatype)
	assert.Equal(t, 3, cfg.WarmupValidation)

	_, err = bench.LoadConfig(filepath.Join(t.TempDir(), "nonesuch.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestData(t *testing.T) {
	assert.Equal(t, []int32{0, 1, 2, 3}, bench.SimpleData(17))
	assert.Empty(t, bench.SimpleData(3))

	nc := bench.NoncompoundData(1000)
	require.NotEmpty(t, nc)
	assert.EqualValues(t, 2, nc[2].I)
	assert.Equal(t, float32(2), nc[2].X[2])

	cc := bench.CompoundData(1000)
	require.NotEmpty(t, cc)
	for _, r := range cc {
		assert.Len(t, r.X, bench.XItemCount)
	}
}

func TestRecordMismatch(t *testing.T) {
	loc := peers.NewLocal(nil, nil)
	defer loc.Stop()

	// A compound record is not a noncompound record, even at the same count.
	sent := bench.CompoundData(1000)
	_, err := bench.CompoundType.Send(loc.A, sent, 1)
	require.NoError(t, err)
	got, err := bench.NoncompoundType.RecvN(loc.B, 1, len(sent))
	assert.ErrorIs(t, err, smpi.ErrTypeMismatch)
	assert.Nil(t, got)

	_, err = bench.NoncompoundType.Send(loc.A, bench.NoncompoundData(1000), 2)
	require.NoError(t, err)
	cgot, err := bench.CompoundType.Recv(loc.B, 2)
	assert.ErrorIs(t, err, smpi.ErrTypeMismatch)
	assert.Nil(t, cgot)

	_, err = bench.SimpleType.Send(loc.A, bench.SimpleData(64), 3)
	require.NoError(t, err)
	ngot, err := bench.NoncompoundType.Recv(loc.B, 3)
	assert.ErrorIs(t, err, smpi.ErrTypeMismatch)
	assert.Nil(t, ngot)
}

// runPair runs the benchmark of the given kind on both ranks of a local pair,
// and returns the results from rank 0.
func runPair(t *testing.T, kind bench.Kind, cfg *bench.Config, dopts *channel.DirectOptions) []bench.Result {
	t.Helper()
	loc := peers.NewLocal(nil, dopts)
	defer loc.Stop()

	var results []bench.Result
	g := taskgroup.New(nil)
	g.Go(func() error {
		rs, err := (&bench.Runner{Comm: loc.A, Rank: 0, Config: cfg}).Run(kind)
		results = rs
		return err
	})
	g.Go(func() error {
		rs, err := (&bench.Runner{Comm: loc.B, Rank: 1, Config: cfg}).Run(kind)
		if err == nil && len(rs) != 0 {
			return fmt.Errorf("rank 1 reported %d results", len(rs))
		}
		return err
	})
	require.NoError(t, g.Wait())
	return results
}

func TestRun(t *testing.T) {
	for _, dt := range bench.Datatypes {
		for _, kind := range []bench.Kind{bench.KindBandwidth, bench.KindLatency} {
			t.Run(fmt.Sprintf("%s/%s", kind, dt), func(t *testing.T) {
				cfg := &bench.Config{
					MinSize:          128,
					MaxSize:          1024,
					WindowSize:       4,
					Iterations:       3,
					Skip:             1,
					WarmupValidation: 2,
					Datatype:         dt,
				}
				// The smaller eager limit exercises sends that wait for their receiver.
				rs := runPair(t, kind, cfg, &channel.DirectOptions{EagerLimit: 512})
				require.Len(t, rs, len(cfg.Sizes()))
				for i, r := range rs {
					assert.Equal(t, cfg.Sizes()[i], r.Size)
					assert.Greater(t, r.Value, 0.0)
				}
			})
		}
	}
}

func TestRunErrors(t *testing.T) {
	loc := peers.NewLocal(nil, nil)
	defer loc.Stop()

	_, err := (&bench.Runner{Comm: loc.A, Rank: 2}).Run(bench.KindBandwidth)
	assert.Error(t, err)

	_, err = (&bench.Runner{Comm: loc.A}).Run("nonesuch")
	assert.Error(t, err)

	_, err = (&bench.Runner{Comm: loc.A, Config: &bench.Config{}}).Run(bench.KindLatency)
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	rec, err := bench.OpenRecorder(path)
	require.NoError(t, err)
	defer rec.Close()

	cfg := bench.DefaultConfig()
	want := []bench.Result{{Size: 4, Count: 1, Value: 1.5}, {Size: 8, Count: 2, Value: 2.75}}
	require.NoError(t, rec.Record(bench.KindLatency, cfg, want))

	got, err := rec.Results(rec.RunID(), bench.KindLatency)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = rec.Results(rec.RunID(), bench.KindBandwidth)
	require.NoError(t, err)
	assert.Empty(t, got)

	// A second recorder on the same database has its own run.
	rec2, err := bench.OpenRecorder(path)
	require.NoError(t, err)
	assert.NotEqual(t, rec.RunID(), rec2.RunID())
	got, err = rec2.Results(rec.RunID(), bench.KindLatency)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.NoError(t, rec2.Close())
	assert.NoError(t, rec2.Close())
}

func TestWriteResults(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, bench.WriteResults(&sb, bench.KindBandwidth, []bench.Result{
		{Size: 4, Count: 1, Value: 10},
		{Size: 1024, Count: 256, Value: 123.456},
	}))
	out := sb.String()
	t.Logf("Output:\n%s", out)
	assert.Contains(t, out, "MB/s")
	assert.Contains(t, out, "123.46")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}
