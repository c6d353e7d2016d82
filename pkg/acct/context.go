package acct

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/maxgio92/kacct/pkg/clock"
	"github.com/maxgio92/kacct/pkg/shm"
)

type probeState uint32

const (
	stateIdle probeState = iota
	stateEntering
	stateExiting
	stateScheduling
	// stateExited is terminal: a context in it never runs a probe again.
	stateExited
)

func (s probeState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateEntering:
		return "entering"
	case stateExiting:
		return "exiting"
	case stateScheduling:
		return "scheduling"
	case stateExited:
		return "exited"
	}
	return "unknown"
}

type frame struct {
	id   shm.SubsysID
	slot int32
}

// hypAway is a hypervisor out event waiting for its in event.
type hypAway struct {
	id     shm.SubsysID
	slot   int32
	cycles int64
	wall   int64
	ok     bool
}

// PidContext is the engine-private accounting state of one process. The
// same reference is shared by every per-CPU table the process is
// registered in.
type PidContext struct {
	pid    int32
	region *shm.Region

	state atomic.Uint32

	// Probe scratch, only touched while holding a non-idle state.
	stack       []frame
	overflow    int
	snap        clock.Stamp
	out         clock.Stamp
	switchedOut bool
	away        hypAway

	cur      *token
	callID   uint64
	dropCall bool

	acctHint   int
	subsysHint int

	tokens *xsync.Map[shm.TokenID, *token]

	// mu guards token minting and release.
	mu        sync.Mutex
	nextToken shm.TokenID
	freeIDs   []shm.TokenID
	live      int

	configured atomic.Bool
	started    atomic.Bool
	aggregate  atomic.Bool
}

func newPidContext(pid int32, region *shm.Region, depth int) *PidContext {
	ctx := &PidContext{
		pid:       pid,
		region:    region,
		stack:     make([]frame, 0, depth),
		tokens:    xsync.NewMap[shm.TokenID, *token](),
		nextToken: shm.TokenDefault + 1,
	}
	ctx.aggregate.Store(shm.DefaultSettings().Aggregate)
	ctx.tokens.Store(shm.TokenDefault, newToken(shm.TokenDefault))

	return ctx
}

// Pid returns the process id the context accounts for.
func (c *PidContext) Pid() int32 {
	return c.pid
}

// Region returns the memory shared with the process.
func (c *PidContext) Region() *shm.Region {
	return c.region
}

func (c *PidContext) enter(s probeState) bool {
	return c.state.CompareAndSwap(uint32(stateIdle), uint32(s))
}

func (c *PidContext) leave() {
	c.state.Store(uint32(stateIdle))
}

func (c *PidContext) top() *frame {
	if len(c.stack) == 0 {
		return nil
	}
	return &c.stack[len(c.stack)-1]
}

// record returns the accounting record of the measurement in progress, nil
// when there is none or the consumer already read it.
func (c *PidContext) record() *shm.AcctRecord {
	if c.cur == nil || c.dropCall {
		return nil
	}
	return c.cur.pending(c.region)
}

func (c *PidContext) subsys(slot int32) *shm.SubsysRecord {
	if !c.region.ValidSubsysSlot(slot) {
		return nil
	}
	return &c.region.Subsys[slot]
}

// charge adds the interval since the last snapshot to the top frame and
// restarts the snapshot at now.
func (c *PidContext) charge(now clock.Stamp) {
	if f := c.top(); f != nil {
		if s := c.subsys(f.slot); s != nil {
			d := now.Sub(c.snap)
			s.Cycles += d.Cycles
			s.Time += d.Wall
		}
	}
	c.snap = now
}

// kill moves the context to the terminal state, waiting for a probe that
// may be running on another processor to finish first.
func (c *PidContext) kill() {
	for !c.state.CompareAndSwap(uint32(stateIdle), uint32(stateExited)) {
		if probeState(c.state.Load()) == stateExited {
			return
		}
		runtime.Gosched()
	}
	c.release()
}

func (c *PidContext) release() {
	c.stack = nil
	c.cur = nil
	c.overflow = 0
	c.switchedOut = false
}

// Depth returns the number of open subsystem frames.
func (c *PidContext) Depth() int {
	return len(c.stack)
}
