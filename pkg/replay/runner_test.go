package replay_test

import (
	"context"
	"testing"

	log "github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/replay"
	"github.com/maxgio92/kacct/pkg/shm"
)

func newRunner(t *testing.T, opts ...replay.RunnerOpt) *replay.Runner {
	t.Helper()
	logger := log.New(log.NewTestWriter(t))
	return replay.NewRunner(append([]replay.RunnerOpt{replay.WithLogger(&logger)}, opts...)...)
}

func catalogID(t *testing.T, name string) shm.SubsysID {
	t.Helper()
	s, err := catalog.Default().Lookup(name)
	require.NoError(t, err)
	return s.ID
}

func TestRun_Nested(t *testing.T) {
	sc, err := replay.Load("testdata/nested.yaml")
	require.NoError(t, err)

	r := newRunner(t)
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, "nested", res.Scenario)
	require.Equal(t, 2, res.Measurements)
	require.Zero(t, res.Dropped)
	require.Zero(t, res.NotReady)
	require.Equal(t, 2, res.Aggregator.Len())

	syscall, ok := res.Aggregator.Get(catalogID(t, "syscall"))
	require.True(t, ok)
	require.Equal(t, int64(14), syscall.Cycles)
	require.Equal(t, int64(14), syscall.Time)
	require.Equal(t, uint32(2), syscall.Entries)
	require.Equal(t, uint32(2), syscall.Exits)

	vfs, ok := res.Aggregator.Get(catalogID(t, "vfs"))
	require.True(t, ok)
	require.Equal(t, int64(6), vfs.Cycles)
	require.Equal(t, uint32(1), vfs.Entries)

	// The process ended before the last snapshot.
	require.Zero(t, res.Stats.Contexts)

	st := r.Status()
	require.NotNil(t, st)
	require.Equal(t, len(sc.Steps), st.Step)
	require.Equal(t, len(sc.Steps), st.Steps)
}

func TestRun_Hypervisor(t *testing.T) {
	sc, err := replay.Load("testdata/hypervisor.yaml")
	require.NoError(t, err)

	res, err := newRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, 1, res.Measurements)

	block, ok := res.Aggregator.Get(catalogID(t, "block"))
	require.True(t, ok)
	require.Equal(t, int64(20), block.Cycles)
	require.Equal(t, int64(5), block.HypOutCycles)
	require.Equal(t, int64(5), block.HypOutTime)
	require.True(t, block.HasCredit())
	require.Equal(t, int64(3), block.MaxCredit)
}

func TestRun_PoolExhausted(t *testing.T) {
	sc, err := replay.Parse([]byte(`
name: exhausted
processes:
  - pid: 1
steps:
  - {op: token, pid: 1, token: a}
  - {op: token, pid: 1, token: b}
  - {op: switch, pid: 1, token: a}
  - {op: call, subsys: syscall, cycles: 3}
  - {op: switch, pid: 1, token: b}
  - {op: call, subsys: syscall, cycles: 3}
  - {op: read, pid: 1, token: b}
  - {op: read, pid: 1, token: a}
`))
	require.NoError(t, err)

	res, err := newRunner(t, replay.WithEngineOptions(acct.WithPools(1, 16))).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, 1, res.Dropped)
	require.Equal(t, 1, res.Measurements)

	r, ok := res.Aggregator.Get(catalogID(t, "syscall"))
	require.True(t, ok)
	require.Equal(t, int64(3), r.Cycles)
}

func TestRun_NotReady(t *testing.T) {
	sc, err := replay.Parse([]byte(`
name: open
processes:
  - pid: 1
steps:
  - {op: interest, pid: 1}
  - {op: enter, subsys: net}
  - {op: read, pid: 1}
`))
	require.NoError(t, err)

	res, err := newRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, 1, res.NotReady)
	require.Zero(t, res.Measurements)
}

func TestRun_Repeat(t *testing.T) {
	sc, err := replay.Parse([]byte(`
name: repeat
processes:
  - pid: 1
    aggregate: true
steps:
  - {op: token, pid: 1, token: a}
  - {op: switch, pid: 1, token: a}
  - {op: call, subsys: tcp, cycles: 2, repeat: 5}
  - {op: read, pid: 1, token: a}
`))
	require.NoError(t, err)

	res, err := newRunner(t).Run(context.Background(), sc)
	require.NoError(t, err)
	r, ok := res.Aggregator.Get(catalogID(t, "tcp"))
	require.True(t, ok)
	require.Equal(t, int64(10), r.Cycles)
	require.Equal(t, uint32(5), r.Entries)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  error
	}{
		{
			name: "unknown token",
			yaml: "processes: [{pid: 1}]\nsteps: [{op: switch, pid: 1, token: nope}]",
			err:  replay.ErrUnknownToken,
		},
		{
			name: "unknown process",
			yaml: "processes: [{pid: 1}]\nsteps: [{op: read, pid: 2}]",
			err:  replay.ErrUnknownProcess,
		},
		{
			name: "reserved alias",
			yaml: "processes: [{pid: 1}]\nsteps: [{op: token, pid: 1, token: \"null\"}]",
			err:  replay.ErrInvalidScenario,
		},
		{
			name: "unknown subsystem",
			yaml: "processes: [{pid: 1}]\nsteps: [{op: enter, subsys: gpu}]",
			err:  catalog.ErrUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := replay.Parse([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = newRunner(t).Run(context.Background(), sc)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	sc, err := replay.Load("testdata/nested.yaml")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newRunner(t).Run(ctx, sc)
	require.ErrorIs(t, err, context.Canceled)
}
