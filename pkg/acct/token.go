package acct

import (
	"sync/atomic"

	"github.com/maxgio92/kacct/pkg/metrics"
	"github.com/maxgio92/kacct/pkg/shm"
)

type token struct {
	id shm.TokenID

	// first is set until the token's first measurement starts.
	first bool

	// Pending record, valid while the slot is in use with the same
	// generation.
	slot int32
	gen  uint64

	hypPos uint64
}

func newToken(id shm.TokenID) *token {
	return &token{id: id, first: true, slot: shm.SlotNone}
}

func (t *token) pending(region *shm.Region) *shm.AcctRecord {
	if t.slot < 0 || int(t.slot) >= len(region.Acct) {
		return nil
	}
	rec := &region.Acct[t.slot]
	if !rec.Used() || atomic.LoadUint64(&rec.Gen) != t.gen {
		return nil
	}
	return rec
}

// startMeasurement binds the call id to a record of t. It returns false
// when no record could be obtained.
func (e *Engine) startMeasurement(ctx *PidContext, t *token, callID uint64, flags uint32) bool {
	rec := t.pending(ctx.region)
	switch {
	case rec != nil && t.id != shm.TokenDefault && flags&shm.FlagReset == 0 && ctx.aggregate.Load():
		// Keep accumulating into the unread record.
		rec.SetOpenFrames(1)
		atomic.StoreUint64(&rec.CallID, callID)
	case rec != nil:
		ctx.recycle(rec, callID)
	default:
		slot, err := ctx.allocAcct(t.id)
		if err != nil {
			ctx.region.Control.SetStatus(callID, t.id, shm.StatusPoolExhausted)
			e.metrics.IncPoolExhausted(metrics.PoolAcct)
			e.logger.Debug().Err(err).Int32("pid", ctx.pid).Uint32("token", uint32(t.id)).
				Uint64("call_id", callID).Msg("dropping measurement")
			return false
		}
		rec = &ctx.region.Acct[slot]
		t.slot = slot
		t.gen = atomic.LoadUint64(&rec.Gen)
		rec.SetOpenFrames(1)
		atomic.StoreUint64(&rec.CallID, callID)
	}
	if e.ring != nil {
		t.hypPos = e.ring.Head()
	}
	t.first = false
	ctx.started.Store(true)
	ctx.away = hypAway{}
	e.metrics.IncMeasurements()

	return true
}

// mintTokens hands out up to n new user token ids, reusing released ones
// first.
func (c *PidContext) mintTokens(n int) []shm.TokenID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]shm.TokenID, 0, n)
	for len(ids) < n {
		var id shm.TokenID
		if k := len(c.freeIDs); k > 0 {
			id = c.freeIDs[k-1]
			c.freeIDs = c.freeIDs[:k-1]
		} else {
			id = c.nextToken
			c.nextToken++
		}
		c.tokens.Store(id, newToken(id))
		ids = append(ids, id)
	}
	c.live += len(ids)

	return ids
}

// releaseTokens returns user token ids to the context's pool. Unknown ids
// and the default token are ignored.
func (c *PidContext) releaseTokens(ids []shm.TokenID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if id == shm.TokenDefault || id == shm.TokenNull {
			continue
		}
		if _, ok := c.tokens.LoadAndDelete(id); !ok {
			continue
		}
		c.freeIDs = append(c.freeIDs, id)
		c.live--
		n++
	}

	return n
}

func (c *PidContext) liveTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}
