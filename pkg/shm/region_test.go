package shm_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/kacct/pkg/shm"
)

func TestNewRegion_Layout(t *testing.T) {
	r, err := shm.NewRegion(4, 8)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Acct, 4)
	require.GreaterOrEqual(t, len(r.Subsys), 8, "slack should go to the subsystem pool")
	require.Zero(t, r.Size()%unix.Getpagesize())
	require.NoError(t, r.Control.Check())

	acct, subsys := r.Slots()
	require.Equal(t, 4, acct)
	require.Equal(t, len(r.Subsys), subsys)

	for i := range r.Acct {
		require.False(t, r.Acct[i].Used())
		for _, slot := range r.Acct[i].SubsysSlot {
			require.Equal(t, shm.SlotNone, slot)
		}
	}
}

func TestNewRegion_BadSizes(t *testing.T) {
	_, err := shm.NewRegion(0, 8)
	require.ErrorIs(t, err, shm.ErrBadLayout)
}

func TestControl_Check(t *testing.T) {
	r, err := shm.NewRegion(1, 1)
	require.NoError(t, err)
	defer r.Close()

	r.Control.Version = shm.LayoutVersion + 1
	require.ErrorIs(t, r.Control.Check(), shm.ErrProtocolMismatch)

	r.Control.Version = shm.LayoutVersion
	r.Control.Magic = 0
	require.ErrorIs(t, r.Control.Check(), shm.ErrProtocolMismatch)
}

func TestControl_Interest(t *testing.T) {
	r, err := shm.NewRegion(1, 1)
	require.NoError(t, err)
	defer r.Close()

	r.Control.Declare(7, 3, shm.FlagReset)
	callID, tk, flags := r.Control.LoadInterest()
	require.Equal(t, uint64(7), callID)
	require.Equal(t, shm.TokenID(3), tk)
	require.Equal(t, shm.FlagReset, flags)

	r.Control.SetStatus(7, 3, shm.StatusPoolExhausted)
	callID, tk, status := r.Control.LoadStatus()
	require.Equal(t, uint64(7), callID)
	require.Equal(t, shm.TokenID(3), tk)
	require.Equal(t, shm.StatusPoolExhausted, status)
}

func TestControl_TokenExchange(t *testing.T) {
	r, err := shm.NewRegion(1, 1)
	require.NoError(t, err)
	defer r.Close()

	n := r.Control.PublishTokens([]shm.TokenID{1, 2, 3})
	require.Equal(t, 3, n)
	require.Equal(t, []shm.TokenID{1, 2, 3}, r.Control.TakeTokens())
	require.Empty(t, r.Control.TakeTokens(), "exchange area should be drained")
}

func TestRecord_ClaimRelease(t *testing.T) {
	r, err := shm.NewRegion(2, 2)
	require.NoError(t, err)
	defer r.Close()

	rec := &r.Acct[0]
	require.True(t, rec.Claim())
	require.False(t, rec.Claim(), "a record can only be claimed once")
	rec.Release()
	require.False(t, rec.Used())

	sub := &r.Subsys[0]
	require.True(t, sub.Claim())
	sub.Reset()
	require.False(t, sub.HasCredit())
	sub.ObserveCredit(5)
	sub.ObserveCredit(-2)
	require.Equal(t, int64(-2), sub.MinCredit)
	require.Equal(t, int64(5), sub.MaxCredit)
	require.True(t, sub.Used())
}

func TestSubsysRecord_Add(t *testing.T) {
	var a, b shm.SubsysRecord
	a.Reset()
	b.Reset()
	a.Cycles, a.Entries, a.Exits = 10, 1, 1
	b.Cycles, b.Entries, b.Exits = 5, 2, 2
	b.ObserveCredit(3)

	a.Add(&b)
	require.Equal(t, int64(15), a.Cycles)
	require.Equal(t, uint32(3), a.Entries)
	require.Equal(t, uint32(3), a.Exits)
	require.Equal(t, int64(3), a.MinCredit)
	require.Equal(t, int64(3), a.MaxCredit)
}
