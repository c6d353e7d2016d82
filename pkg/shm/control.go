package shm

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// Interest flags.
const (
	// FlagReset makes the next measurement of the token start from scratch
	// instead of aggregating into an unread record.
	FlagReset uint32 = 1 << iota
	// FlagStop cancels the current interest.
	FlagStop
)

// Status codes the engine reports for a call id.
const (
	StatusOK uint32 = iota
	StatusPoolExhausted
)

// Interest is the active-interest descriptor. The consumer writes it before
// an instrumented call, the engine reads it on the first accounted entry.
type Interest struct {
	CallID       uint64
	Token        TokenID
	Flags        uint32
	Shadow       uint32
	Status       uint32
	StatusCallID uint64
	StatusToken  TokenID
	_            uint32
}

// Control is the small control block shared next to the record pools.
type Control struct {
	Magic        uint32
	Version      uint32
	NumAcct      uint32
	NumSubsys    uint32
	AcctSize     uint32
	SubsysSize   uint32
	Interest     Interest
	NumNewTokens uint32
	_            uint32
	NewTokens    [TokenBatch]TokenID
}

var controlSize = int(unsafe.Sizeof(Control{}))

// Declare publishes a new interest. The call id is stored last so that the
// engine never sees a new id with stale token or flags.
func (c *Control) Declare(callID uint64, tk TokenID, flags uint32) {
	atomic.StoreUint32((*uint32)(&c.Interest.Token), uint32(tk))
	atomic.StoreUint32(&c.Interest.Flags, flags)
	atomic.StoreUint64(&c.Interest.CallID, callID)
}

// LoadInterest returns the current call id, token and flags.
func (c *Control) LoadInterest() (uint64, TokenID, uint32) {
	callID := atomic.LoadUint64(&c.Interest.CallID)
	tk := TokenID(atomic.LoadUint32((*uint32)(&c.Interest.Token)))
	flags := atomic.LoadUint32(&c.Interest.Flags)
	return callID, tk, flags
}

// SetShadow selects the shadow kernel the interest applies to.
func (c *Control) SetShadow(shadow uint32) {
	atomic.StoreUint32(&c.Interest.Shadow, shadow)
}

func (c *Control) Shadow() uint32 {
	return atomic.LoadUint32(&c.Interest.Shadow)
}

// SetStatus records the outcome of a call id. Written by the engine.
func (c *Control) SetStatus(callID uint64, tk TokenID, status uint32) {
	atomic.StoreUint32((*uint32)(&c.Interest.StatusToken), uint32(tk))
	atomic.StoreUint32(&c.Interest.Status, status)
	atomic.StoreUint64(&c.Interest.StatusCallID, callID)
}

// LoadStatus returns the last reported call id, token and status.
func (c *Control) LoadStatus() (uint64, TokenID, uint32) {
	callID := atomic.LoadUint64(&c.Interest.StatusCallID)
	tk := TokenID(atomic.LoadUint32((*uint32)(&c.Interest.StatusToken)))
	status := atomic.LoadUint32(&c.Interest.Status)
	return callID, tk, status
}

// PublishTokens fills the exchange area. Written by the engine.
func (c *Control) PublishTokens(ids []TokenID) int {
	n := copy(c.NewTokens[:], ids)
	atomic.StoreUint32(&c.NumNewTokens, uint32(n))
	return n
}

// TakeTokens drains the exchange area. Called by the consumer.
func (c *Control) TakeTokens() []TokenID {
	n := atomic.SwapUint32(&c.NumNewTokens, 0)
	if n > TokenBatch {
		n = TokenBatch
	}
	out := make([]TokenID, n)
	copy(out, c.NewTokens[:n])
	return out
}

func (c *Control) stamp(numAcct, numSubsys int) {
	c.Magic = LayoutMagic
	c.Version = LayoutVersion
	c.NumAcct = uint32(numAcct)
	c.NumSubsys = uint32(numSubsys)
	c.AcctSize = uint32(acctRecordSize)
	c.SubsysSize = uint32(subsysRecordSize)
}

// Check validates that the layout the engine stamped matches the one this
// binary was built against.
func (c *Control) Check() error {
	if c.Magic != LayoutMagic {
		return errors.Wrapf(ErrProtocolMismatch, "bad magic %#x", c.Magic)
	}
	if c.Version != LayoutVersion {
		return errors.Wrapf(ErrProtocolMismatch, "layout version %d, want %d", c.Version, LayoutVersion)
	}
	if int(c.AcctSize) != acctRecordSize || int(c.SubsysSize) != subsysRecordSize {
		return errors.Wrapf(ErrProtocolMismatch, "record sizes %d/%d, want %d/%d",
			c.AcctSize, c.SubsysSize, acctRecordSize, subsysRecordSize)
	}
	return nil
}

// PendingTokens returns how many minted ids wait in the exchange area.
func (c *Control) PendingTokens() int {
	return int(atomic.LoadUint32(&c.NumNewTokens))
}

// Settings are the per-process options a consumer may set once, before its
// first measurement.
type Settings struct {
	// Aggregate lets consecutive calls under one user token accumulate into
	// the token's unread record.
	Aggregate bool
	// Shadow selects the shadow kernel the interest applies to.
	Shadow uint32
}

// DefaultSettings are in effect until a process configures its own.
func DefaultSettings() Settings {
	return Settings{Aggregate: true}
}
