package acct

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/pkg/shm"
)

// allocAcct claims a free accounting record, probing circularly from the
// context's hint, and bumps its generation.
func (c *PidContext) allocAcct(tk shm.TokenID) (int32, error) {
	pool := c.region.Acct
	n := len(pool)
	for i := 0; i < n; i++ {
		idx := (c.acctHint + i) % n
		rec := &pool[idx]
		if !rec.Claim() {
			continue
		}
		c.acctHint = (idx + 1) % n
		rec.Reset(tk, 0)
		atomic.AddUint64(&rec.Gen, 1)
		return int32(idx), nil
	}

	return shm.SlotNone, errors.Wrapf(ErrPoolExhausted, "%d records in use", n)
}

// allocSubsys claims a free subsystem record and links it to rec under id.
func (c *PidContext) allocSubsys(rec *shm.AcctRecord, id shm.SubsysID) (int32, error) {
	pool := c.region.Subsys
	n := len(pool)
	for i := 0; i < n; i++ {
		idx := (c.subsysHint + i) % n
		s := &pool[idx]
		if !s.Claim() {
			continue
		}
		c.subsysHint = (idx + 1) % n
		s.Reset()
		rec.SubsysSlot[id] = int32(idx)
		rec.NumSubsys++
		return int32(idx), nil
	}

	return shm.SlotNone, errors.Wrapf(ErrSubsysExhausted, "%d records in use", n)
}

// recycle reuses an unread record in place for a new measurement. Linked
// subsystem records are zeroed and stay linked.
func (c *PidContext) recycle(rec *shm.AcctRecord, callID uint64) {
	rec.SetOpenFrames(1)
	rec.Ret = shm.RetOK
	atomic.StoreUint64(&rec.PseudoHits, 0)
	for _, slot := range rec.SubsysSlot {
		if s := c.subsys(slot); s != nil {
			s.Reset()
		}
	}
	atomic.StoreUint64(&rec.CallID, callID)
}
