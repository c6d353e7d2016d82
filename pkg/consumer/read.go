package consumer

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/pkg/shm"
)

// Record is a measurement copied out of the shared pool.
type Record struct {
	shm.AcctRecord

	expanded bool
}

// Read copies the unread measurement of tk out of the shared pool and
// frees its accounting slot. It returns ErrNotReady while the measurement
// has not started or still has open subsystem frames.
func (h *Handle) Read(tk shm.TokenID) (*Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.read(tk)
}

func (h *Handle) read(tk shm.TokenID) (*Record, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if tk != shm.TokenDefault && h.tokens[tk] != tokenActive {
		return nil, errors.Wrapf(ErrTokenNotActive, "token %d", tk)
	}
	p, ok := h.pending[tk]
	if !ok {
		return nil, errors.Wrapf(ErrNotReady, "no interest declared on token %d", tk)
	}

	for i := range h.region.Acct {
		rec := &h.region.Acct[i]
		if !rec.Used() || rec.Token != tk {
			continue
		}
		callID := atomic.LoadUint64(&rec.CallID)
		if callID < p.first || callID > p.last {
			continue
		}
		if n := rec.OpenFrames(); n > 0 {
			return nil, errors.Wrapf(ErrNotReady, "%d subsystem frames still open", n)
		}
		out := &Record{AcctRecord: *rec}
		rec.Release()
		delete(h.pending, tk)
		return out, nil
	}

	if callID, stk, status := h.region.Control.LoadStatus(); status == shm.StatusPoolExhausted &&
		stk == tk && callID >= p.first && callID <= p.last {
		delete(h.pending, tk)
		return nil, errors.Wrapf(ErrPoolExhausted, "call %d", callID)
	}

	return nil, errors.Wrapf(ErrNotReady, "call %d", p.last)
}

// Expand moves the subsystem records of rec out of the shared pool into an
// indexed set. A record can be expanded once.
func (h *Handle) Expand(rec *Record) (*IndexedSet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	return h.expand(rec)
}

func (h *Handle) expand(rec *Record) (*IndexedSet, error) {
	if rec.expanded {
		return nil, ErrAlreadyExpanded
	}
	set := NewIndexedSet(int(rec.NumSubsys))
	for id, slot := range rec.SubsysSlot {
		if slot == shm.SlotNone {
			continue
		}
		if !h.region.ValidSubsysSlot(slot) {
			h.logger.Warn().Int("subsys", id).Int32("slot", slot).Msg("ignoring out of range subsystem slot")
			continue
		}
		s := &h.region.Subsys[slot]
		if !s.Used() {
			continue
		}
		set.insert(shm.SubsysID(id), s)
		s.Release()
	}
	rec.expanded = true

	return set, nil
}

// ReadExpanded reads the measurement of tk and expands it.
func (h *Handle) ReadExpanded(tk shm.TokenID) (*IndexedSet, *Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, err := h.read(tk)
	if err != nil {
		return nil, nil, err
	}
	set, err := h.expand(rec)
	if err != nil {
		return nil, rec, err
	}
	return set, rec, nil
}

// Merge folds other into agg. See the package level Merge.
func (h *Handle) Merge(agg *Aggregator, other *IndexedSet) (int, error) {
	return Merge(agg, other)
}

// MergeRecord expands rec and folds it into agg, freeing the intermediate
// set.
func (h *Handle) MergeRecord(agg *Aggregator, rec *Record) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}

	set, err := h.expand(rec)
	if err != nil {
		return 0, err
	}
	defer h.freeSet(set)

	return Merge(agg, set)
}

// FreeIndexedSet drops a set. It cannot be merged afterwards.
func (h *Handle) FreeIndexedSet(set *IndexedSet) {
	h.freeSet(set)
}

func (h *Handle) freeSet(set *IndexedSet) {
	set.free()
}
