package shm

import (
	"math"
	"sync/atomic"
	"unsafe"
)

const (
	// NumSubsystems is the size of the subsystem id space.
	NumSubsystems = 64

	// TokenBatch is the number of token ids the engine hands out per request.
	TokenBatch = 8

	// SlotNone marks an absent entry in AcctRecord.SubsysSlot.
	SlotNone int32 = -1

	LayoutMagic   uint32 = 0x6b616363
	LayoutVersion uint32 = 1
)

// SubsysID identifies an instrumented subsystem.
type SubsysID uint16

// TokenID identifies a logical unit of work.
type TokenID uint32

const (
	// TokenDefault is the per-process self-monitoring token. It always exists.
	TokenDefault TokenID = 0
	// TokenNull suspends accounting.
	TokenNull TokenID = math.MaxUint32
)

// Return codes stored in AcctRecord.Ret.
const (
	RetOK              int32 = 0
	RetSubsysExhausted int32 = 1
)

// AcctRecord is the summary of one measurement. It lives in the shared
// region and indexes the subsystem records it touched by slot.
type AcctRecord struct {
	InUse      uint32
	Ret        int32
	Token      TokenID
	Depth      uint32
	CallID     uint64
	Gen        uint64
	NumSubsys  uint32
	_          uint32
	PseudoHits uint64
	SubsysSlot [NumSubsystems]int32
}

// Used reports whether the record is currently allocated.
func (r *AcctRecord) Used() bool {
	return atomic.LoadUint32(&r.InUse) == 1
}

// Claim marks a free record as in use. Only the engine claims.
func (r *AcctRecord) Claim() bool {
	return atomic.CompareAndSwapUint32(&r.InUse, 0, 1)
}

// Release returns the record to the free pool. Only the consumer releases.
func (r *AcctRecord) Release() {
	atomic.StoreUint32(&r.InUse, 0)
}

// OpenFrames returns the number of subsystem frames still open for the
// measurement. A record with open frames is still being written.
func (r *AcctRecord) OpenFrames() uint32 {
	return atomic.LoadUint32(&r.Depth)
}

// SetOpenFrames publishes the current nesting depth.
func (r *AcctRecord) SetOpenFrames(depth int) {
	atomic.StoreUint32(&r.Depth, uint32(depth))
}

// Reset clears the measurement fields and unlinks every subsystem slot.
func (r *AcctRecord) Reset(tk TokenID, callID uint64) {
	r.Ret = RetOK
	r.Token = tk
	r.CallID = callID
	r.NumSubsys = 0
	atomic.StoreUint64(&r.PseudoHits, 0)
	for i := range r.SubsysSlot {
		r.SubsysSlot[i] = SlotNone
	}
	r.SetOpenFrames(0)
}

// SubsysRecord holds the per-subsystem metrics of one measurement.
// Cycles and Time include the time spent scheduled out while the subsystem
// was on top of the stack; the SchedOut and HypOut fields are that share.
type SubsysRecord struct {
	InUse          uint32
	Entries        uint32
	Exits          uint32
	_              uint32
	Cycles         int64
	Time           int64
	SchedOutCycles int64
	SchedOutTime   int64
	HypOutCycles   int64
	HypOutTime     int64
	MinCredit      int64
	MaxCredit      int64
}

func (r *SubsysRecord) Used() bool {
	return atomic.LoadUint32(&r.InUse) == 1
}

func (r *SubsysRecord) Claim() bool {
	return atomic.CompareAndSwapUint32(&r.InUse, 0, 1)
}

func (r *SubsysRecord) Release() {
	atomic.StoreUint32(&r.InUse, 0)
}

// Reset zeroes the metrics, keeping the in-use flag.
func (r *SubsysRecord) Reset() {
	r.Entries = 0
	r.Exits = 0
	r.Cycles = 0
	r.Time = 0
	r.SchedOutCycles = 0
	r.SchedOutTime = 0
	r.HypOutCycles = 0
	r.HypOutTime = 0
	r.MinCredit = math.MaxInt64
	r.MaxCredit = math.MinInt64
}

// HasCredit reports whether any scheduling credit was observed.
func (r *SubsysRecord) HasCredit() bool {
	return r.MinCredit <= r.MaxCredit
}

// ObserveCredit folds a scheduling credit sample into min/max.
func (r *SubsysRecord) ObserveCredit(credit int64) {
	if credit < r.MinCredit {
		r.MinCredit = credit
	}
	if credit > r.MaxCredit {
		r.MaxCredit = credit
	}
}

// Add sums other into r field by field; credits are reduced with min/max.
func (r *SubsysRecord) Add(other *SubsysRecord) {
	r.Entries += other.Entries
	r.Exits += other.Exits
	r.Cycles += other.Cycles
	r.Time += other.Time
	r.SchedOutCycles += other.SchedOutCycles
	r.SchedOutTime += other.SchedOutTime
	r.HypOutCycles += other.HypOutCycles
	r.HypOutTime += other.HypOutTime
	if other.HasCredit() {
		r.ObserveCredit(other.MinCredit)
		r.ObserveCredit(other.MaxCredit)
	}
}

var (
	acctRecordSize   = int(unsafe.Sizeof(AcctRecord{}))
	subsysRecordSize = int(unsafe.Sizeof(SubsysRecord{}))
)
