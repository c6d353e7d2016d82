package acct

import (
	"sync/atomic"

	"github.com/maxgio92/kacct/pkg/hyp"
	"github.com/maxgio92/kacct/pkg/metrics"
	"github.com/maxgio92/kacct/pkg/shm"
)

// SubsysEntry is called before subsystem id runs on cpu. It returns whether
// the crossing was accounted.
func (e *Engine) SubsysEntry(cpu int, id shm.SubsysID) bool {
	if int(id) >= shm.NumSubsystems {
		return false
	}
	ctx := e.currentOn(cpu)
	if ctx == nil {
		return false
	}
	if !ctx.enter(stateEntering) {
		e.metrics.IncReentrant()
		return false
	}
	defer ctx.leave()

	if e.pseudo[id] {
		rec := e.pseudoRecord(ctx)
		if rec == nil {
			return false
		}
		atomic.AddUint64(&rec.PseudoHits, 1)
		return true
	}

	rec := e.activeRecord(ctx)
	if rec == nil {
		return false
	}
	now := e.clock.Now()
	e.drainHyp(ctx, cpu)

	if len(ctx.stack) == cap(ctx.stack) {
		ctx.overflow++
		e.metrics.IncStackOverflow()
		return false
	}

	slot := rec.SubsysSlot[id]
	if ctx.subsys(slot) == nil {
		var err error
		slot, err = ctx.allocSubsys(rec, id)
		if err != nil {
			rec.Ret = shm.RetSubsysExhausted
			rec.SetOpenFrames(len(ctx.stack))
			e.metrics.IncPoolExhausted(metrics.PoolSubsys)
			e.logger.Debug().Err(err).Int32("pid", ctx.pid).Uint16("subsys", uint16(id)).Msg("subsystem not accounted")
			return false
		}
	}

	// The interval so far belongs to the subsystem being left.
	ctx.charge(now)
	ctx.subsys(slot).Entries++
	ctx.stack = append(ctx.stack, frame{id: id, slot: slot})
	rec.SetOpenFrames(len(ctx.stack))

	return true
}

// SubsysExit is called after subsystem id returned on cpu. Exits that do
// not match any open frame are ignored.
func (e *Engine) SubsysExit(cpu int, id shm.SubsysID) {
	if int(id) >= shm.NumSubsystems {
		return
	}
	ctx := e.currentOn(cpu)
	if ctx == nil {
		return
	}
	if !ctx.enter(stateExiting) {
		e.metrics.IncReentrant()
		return
	}
	defer ctx.leave()

	if e.pseudo[id] || len(ctx.stack) == 0 {
		return
	}
	if ctx.overflow > 0 {
		ctx.overflow--
		return
	}

	pos := -1
	for i := len(ctx.stack) - 1; i >= 0; i-- {
		if ctx.stack[i].id == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}

	rec := ctx.record()
	if rec == nil {
		// Measurement already gone: keep the stack consistent only.
		ctx.stack = ctx.stack[:pos]
		return
	}
	now := e.clock.Now()
	e.drainHyp(ctx, cpu)

	if top := len(ctx.stack) - 1; pos != top {
		e.metrics.IncStackMismatch()
		e.logger.Warn().Int32("pid", ctx.pid).
			Uint16("subsys", uint16(id)).
			Uint16("top", uint16(ctx.stack[top].id)).
			Int("dropped", top-pos).
			Msg("subsystem exit does not match the top of the stack")
	}
	for len(ctx.stack) > pos {
		f := ctx.top()
		ctx.charge(now)
		if s := ctx.subsys(f.slot); s != nil {
			s.Exits++
		}
		ctx.stack = ctx.stack[:len(ctx.stack)-1]
	}
	rec.SetOpenFrames(len(ctx.stack))
}

// activeRecord returns the record the next crossing of ctx is charged to,
// starting a new measurement when the process declared a new interest.
// Interest changes are only looked at between calls, with no frame open.
func (e *Engine) activeRecord(ctx *PidContext) *shm.AcctRecord {
	if len(ctx.stack) > 0 {
		return ctx.record()
	}

	callID, tk, flags := ctx.region.Control.LoadInterest()
	if callID == ctx.callID && !ctx.dropCall && ctx.cur != nil {
		return ctx.record()
	}
	if callID == ctx.callID {
		return nil
	}

	ctx.callID = callID
	ctx.dropCall = false
	ctx.cur = nil
	if tk == shm.TokenNull || flags&shm.FlagStop != 0 {
		return nil
	}
	t, ok := ctx.tokens.Load(tk)
	if !ok {
		e.logger.Debug().Int32("pid", ctx.pid).Uint32("token", uint32(tk)).Msg("interest declared on an unknown token")
		return nil
	}
	ctx.cur = t
	if !e.startMeasurement(ctx, t, callID, flags) {
		ctx.dropCall = true
		return nil
	}

	return ctx.record()
}

// pseudoRecord returns the record a pseudo subsystem hit is counted in.
// Between calls a newer interest than the one ctx is bound to means the
// bound record is no longer wanted; the hit is dropped and the interest is
// left for the next real entry to pick up.
func (e *Engine) pseudoRecord(ctx *PidContext) *shm.AcctRecord {
	if len(ctx.stack) == 0 {
		callID, _, _ := ctx.region.Control.LoadInterest()
		if callID != ctx.callID {
			return nil
		}
	}
	return ctx.record()
}

// drainHyp folds the hypervisor events published since the last drain into
// the open subsystems. An out event is held until its in event arrives; the
// pair then charges the time the vCPU was away to the subsystem that was on
// top of the stack at the out event.
func (e *Engine) drainHyp(ctx *PidContext, cpu int) {
	if e.ring == nil || ctx.cur == nil {
		return
	}
	t := ctx.cur
	next, lost := e.ring.Drain(t.hypPos, cpu, func(ev hyp.Event) {
		f := ctx.top()
		var s *shm.SubsysRecord
		if f != nil {
			s = ctx.subsys(f.slot)
		}
		switch {
		case ev.Flags&hyp.FlagOut != 0:
			ctx.away = hypAway{}
			if s == nil {
				return
			}
			ctx.away = hypAway{id: f.id, slot: f.slot, cycles: ev.Cycles, wall: ev.Timestamp, ok: true}
		case ev.Flags&hyp.FlagIn != 0:
			a := ctx.away
			ctx.away = hypAway{}
			if !a.ok {
				return
			}
			rec := ctx.record()
			if rec == nil || rec.SubsysSlot[a.id] != a.slot {
				return
			}
			if away := ctx.subsys(a.slot); away != nil {
				away.HypOutCycles += ev.Cycles - a.cycles
				away.HypOutTime += ev.Timestamp - a.wall
			}
		}
		if s != nil {
			s.ObserveCredit(ev.Credit)
		}
	})
	t.hypPos = next
	e.metrics.AddHypLost(lost)
}
