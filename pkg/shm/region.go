package shm

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/kacct/internal/utils"
)

// Region is the memory shared between the engine and one consumer process:
// a page-rounded block holding the accounting pool followed by the
// subsystem pool, and a separate control page. Records refer to each other
// by slot index only.
type Region struct {
	Control *Control
	Acct    []AcctRecord
	Subsys  []SubsysRecord

	pools []byte
	ctl   []byte
}

// NewRegion maps a region able to hold numAcct accounting records and at
// least numSubsys subsystem records. The pool mapping is rounded up to the
// page size and the slack is given to the subsystem pool.
func NewRegion(numAcct, numSubsys int) (*Region, error) {
	if numAcct <= 0 || numSubsys <= 0 {
		return nil, errors.Wrapf(ErrBadLayout, "pool sizes %d/%d", numAcct, numSubsys)
	}
	page := unix.Getpagesize()

	acctBytes := numAcct * acctRecordSize
	want := acctBytes + numSubsys*subsysRecordSize
	size := utils.RoundUp(want, page)
	numSubsys = (size - acctBytes) / subsysRecordSize

	pools, err := mapShared(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map record pools")
	}
	ctl, err := mapShared(utils.RoundUp(controlSize, page))
	if err != nil {
		unix.Munmap(pools)
		return nil, errors.Wrap(err, "failed to map control region")
	}

	r := &Region{
		pools:   pools,
		ctl:     ctl,
		Control: (*Control)(unsafe.Pointer(&ctl[0])),
		Acct:    unsafe.Slice((*AcctRecord)(unsafe.Pointer(&pools[0])), numAcct),
		Subsys:  unsafe.Slice((*SubsysRecord)(unsafe.Pointer(&pools[acctBytes])), numSubsys),
	}
	for i := range r.Acct {
		r.Acct[i].Reset(TokenNull, 0)
	}
	r.Control.stamp(numAcct, numSubsys)

	return r, nil
}

func mapShared(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
}

// Size returns the size of the pool mapping in bytes.
func (r *Region) Size() int {
	return len(r.pools)
}

// Slots returns the pool capacities as seen through the control block.
func (r *Region) Slots() (acct, subsys int) {
	return int(r.Control.NumAcct), int(r.Control.NumSubsys)
}

// InUse counts allocated records in both pools.
func (r *Region) InUse() (acct, subsys int) {
	for i := range r.Acct {
		if r.Acct[i].Used() {
			acct++
		}
	}
	for i := range r.Subsys {
		if r.Subsys[i].Used() {
			subsys++
		}
	}
	return acct, subsys
}

// ValidSubsysSlot reports whether slot indexes the subsystem pool.
func (r *Region) ValidSubsysSlot(slot int32) bool {
	return slot >= 0 && int(slot) < len(r.Subsys)
}

// Close unmaps the region. Only the owning consumer closes it.
func (r *Region) Close() error {
	if r.pools == nil {
		return nil
	}
	r.Acct, r.Subsys, r.Control = nil, nil, nil
	err := unix.Munmap(r.pools)
	if cerr := unix.Munmap(r.ctl); err == nil {
		err = cerr
	}
	r.pools, r.ctl = nil, nil
	return errors.Wrap(err, "failed to unmap region")
}
