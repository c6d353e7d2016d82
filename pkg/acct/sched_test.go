package acct

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/shm"
)

func TestOnContextSwitch_ScheduledOut(t *testing.T) {
	const out = 50

	e, clk := newTestEngine(t)
	region := mapProcess(t, e, 100, 0)
	mapProcess(t, e, 200, 1)
	require.NoError(t, e.registry.Insert(0, 200, e.currentOn(1)))
	region.Control.Declare(1, shm.TokenDefault, 0)

	start := clk.Now()
	require.True(t, e.SubsysEntry(0, subsysVFS))
	clk.Advance(10, 10)

	e.OnContextSwitch(100, 200, 0)
	require.Equal(t, int32(200), e.currentOn(0).Pid())
	clk.Advance(out, out)
	e.OnContextSwitch(200, 100, 0)
	require.Equal(t, int32(100), e.currentOn(0).Pid())

	clk.Advance(10, 10)
	e.SubsysExit(0, subsysVFS)
	total := clk.Now().Sub(start)

	rec := findRecord(region, shm.TokenDefault, 1)
	require.NotNil(t, rec)
	vfs := subsysOf(region, rec, subsysVFS)
	require.GreaterOrEqual(t, vfs.SchedOutTime, int64(out))
	require.Less(t, vfs.SchedOutTime, total.Wall)
	require.Equal(t, int64(out), vfs.SchedOutCycles)
	require.Equal(t, total.Cycles, vfs.Cycles, "running and scheduled-out time are both charged")
}

func TestOnContextSwitch_OutsideSubsystem(t *testing.T) {
	e, clk := newTestEngine(t)
	region := mapProcess(t, e, 100, 0)
	region.Control.Declare(1, shm.TokenDefault, 0)

	e.OnContextSwitch(100, 300, 0)
	require.Nil(t, e.currentOn(0), "unknown processes clear the current context")
	clk.Advance(100, 100)
	e.OnContextSwitch(300, 100, 0)

	require.True(t, e.SubsysEntry(0, subsysVFS))
	clk.Advance(1, 1)
	e.SubsysExit(0, subsysVFS)

	rec := findRecord(region, shm.TokenDefault, 1)
	require.NotNil(t, rec)
	vfs := subsysOf(region, rec, subsysVFS)
	require.Zero(t, vfs.SchedOutCycles)
	require.Equal(t, int64(1), vfs.Cycles)
}

func TestOnMigrate(t *testing.T) {
	e, clk := newTestEngine(t)
	region := mapProcess(t, e, 100, 0)
	region.Control.Declare(1, shm.TokenDefault, 0)

	require.True(t, e.SubsysEntry(0, subsysVFS))
	clk.Advance(5, 5)
	e.OnContextSwitch(100, 0, 0)

	e.OnMigrate(100, 0, 1)
	ctx, ok := e.registry.Lookup(1, 100)
	require.True(t, ok)
	require.Same(t, ctx, contextOf(t, e, 100))

	// Fast path: already registered.
	e.OnMigrate(100, 0, 1)
	require.Equal(t, 1, e.registry.Len(1))

	clk.Advance(20, 20)
	e.OnContextSwitch(0, 100, 1)
	clk.Advance(5, 5)
	e.SubsysExit(1, subsysVFS)

	rec := findRecord(region, shm.TokenDefault, 1)
	require.NotNil(t, rec)
	vfs := subsysOf(region, rec, subsysVFS)
	require.Equal(t, int64(30), vfs.Cycles)
	require.Equal(t, int64(20), vfs.SchedOutCycles)
	require.Equal(t, vfs.Entries, vfs.Exits)
}

func TestOnMigrate_Unknown(t *testing.T) {
	e, _ := newTestEngine(t)
	e.OnMigrate(100, 0, 1)
	require.Zero(t, e.registry.Len(1))
}

func TestOnExit(t *testing.T) {
	e, _ := newTestEngine(t)
	region, err := e.Map(100, 0)
	require.NoError(t, err)
	defer region.Close()
	e.OnMigrate(100, 0, 1)
	e.OnContextSwitch(0, 100, 1)

	e.OnExit(100)
	require.Nil(t, e.currentOn(0))
	require.Nil(t, e.currentOn(1))
	require.Zero(t, e.registry.Len(0))
	require.Zero(t, e.registry.Len(1))
	require.Zero(t, e.Stats().Contexts)

	_, err = e.RequestTokens(100)
	require.ErrorIs(t, err, ErrNotMapped)

	// Exiting twice is harmless.
	e.OnExit(100)
}

func contextOf(t *testing.T, e *Engine, pid int32) *PidContext {
	t.Helper()
	ctx, err := e.context(pid)
	require.NoError(t, err)
	return ctx
}
