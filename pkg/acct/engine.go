// Package acct is the accounting engine. It keeps a per-CPU registry of the
// processes using it, tracks the stack of subsystems each of them is
// executing, and charges cycles and time to records in the memory it
// shares with every process.
//
// Hooks are called by whatever feeds boundary crossings and scheduler events
// into the engine, always with the processor they happened on. Calls for a
// given processor must not overlap.
package acct

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/kacct/pkg/clock"
	"github.com/maxgio92/kacct/pkg/registry"
	"github.com/maxgio92/kacct/pkg/shm"
)

type Engine struct {
	registry *registry.Registry[*PidContext]

	// contexts indexes every mapped process, whatever processor it runs on.
	contexts *xsync.Map[int32, *PidContext]

	// current is the context accounted on each processor.
	current []atomic.Pointer[PidContext]

	shutdown atomic.Bool

	*EngineOptions
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Contexts    int   `json:"contexts"`
	PerCPU      []int `json:"per_cpu"`
	AcctSlots   int   `json:"acct_slots"`
	AcctInUse   int   `json:"acct_in_use"`
	SubsysSlots int   `json:"subsys_slots"`
	SubsysInUse int   `json:"subsys_in_use"`
	LiveTokens  int   `json:"live_tokens"`
}

func NewEngine(opts ...EngineOpt) (*Engine, error) {
	e := &Engine{
		EngineOptions: &EngineOptions{
			cpus:          1,
			registryBits:  registry.DefaultBits,
			acctRecords:   DefaultAcctRecords,
			subsysRecords: DefaultSubsysRecords,
			maxTokens:     DefaultMaxTokens,
			stackDepth:    DefaultStackDepth,
			clock:         clock.NewMonotonic(),
		},
		contexts: xsync.NewMap[int32, *PidContext](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		logger := log.Nop()
		e.logger = &logger
	}
	if e.stackDepth <= 0 {
		return nil, errors.Errorf("invalid stack depth %d", e.stackDepth)
	}

	var err error
	e.registry, err = registry.New[*PidContext](e.cpus, e.registryBits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create registry")
	}
	e.current = make([]atomic.Pointer[PidContext], e.cpus)

	return e, nil
}

// CPUs returns the number of processors the engine accounts on.
func (e *Engine) CPUs() int {
	return len(e.current)
}

// Map creates the accounting context of pid, maps the memory it shares
// with the engine and makes it current on cpu. Mapping an already mapped
// process returns its existing region.
//
// A process whose registry bucket window is full is still mapped, but is
// not accounted on cpu until it is registered there.
func (e *Engine) Map(pid int32, cpu int) (*shm.Region, error) {
	if e.shutdown.Load() {
		return nil, ErrShutdown
	}
	if cpu < 0 || cpu >= len(e.current) {
		return nil, errors.Wrapf(registry.ErrBadCPU, "cpu %d", cpu)
	}

	var mapErr error
	ctx, loaded := e.contexts.LoadOrCompute(pid, func() (*PidContext, bool) {
		region, err := shm.NewRegion(e.acctRecords, e.subsysRecords)
		if err != nil {
			mapErr = err
			return nil, true
		}
		return newPidContext(pid, region, e.stackDepth), false
	})
	if mapErr != nil {
		return nil, errors.Wrapf(mapErr, "failed to map pid %d", pid)
	}
	if loaded {
		return ctx.region, nil
	}
	e.metrics.SetContexts(e.contexts.Size())

	if err := e.registry.Insert(cpu, pid, ctx); err != nil {
		e.metrics.IncRegistryFull()
		e.logger.Warn().Err(err).Int32("pid", pid).Int("cpu", cpu).Msg("process will not be accounted on this cpu")
		return ctx.region, nil
	}
	e.current[cpu].Store(ctx)

	e.logger.Debug().Int32("pid", pid).Int("cpu", cpu).
		Int("acct_slots", len(ctx.region.Acct)).
		Int("subsys_slots", len(ctx.region.Subsys)).
		Msg("process mapped")

	return ctx.region, nil
}

// Unmap forgets pid as if it exited. The consumer must call it before
// unmapping the shared region.
func (e *Engine) Unmap(pid int32) {
	e.OnExit(pid)
}

// Configure applies the one-time settings of pid. It fails once the process
// started its first measurement or was already configured.
func (e *Engine) Configure(pid int32, s shm.Settings) error {
	ctx, err := e.context(pid)
	if err != nil {
		return err
	}
	if ctx.started.Load() {
		return errors.Wrapf(ErrAlreadyConfigured, "pid %d already started measuring", pid)
	}
	if !ctx.configured.CompareAndSwap(false, true) {
		return errors.Wrapf(ErrAlreadyConfigured, "pid %d", pid)
	}
	ctx.aggregate.Store(s.Aggregate)
	ctx.region.Control.SetShadow(s.Shadow)

	e.logger.Debug().Int32("pid", pid).Bool("aggregate", s.Aggregate).Uint32("shadow", s.Shadow).Msg("process configured")

	return nil
}

// RequestTokens mints user tokens for pid into the exchange area of its
// control block, topping it up to a full batch. It returns the number of
// ids waiting there.
func (e *Engine) RequestTokens(pid int32) (int, error) {
	ctx, err := e.context(pid)
	if err != nil {
		return 0, err
	}

	ids := ctx.region.Control.TakeTokens()
	want := shm.TokenBatch - len(ids)
	if room := e.maxTokens - ctx.liveTokens(); want > room {
		want = room
	}
	if want > 0 {
		minted := ctx.mintTokens(want)
		e.metrics.AddTokensMinted(len(minted))
		ids = append(ids, minted...)
	}
	n := ctx.region.Control.PublishTokens(ids)
	if n == 0 {
		e.metrics.IncTokenExhausted()
		return 0, errors.Wrapf(ErrTokenExhausted, "pid %d has %d live tokens", pid, ctx.liveTokens())
	}

	return n, nil
}

// ReleaseTokens gives user tokens back to the engine.
func (e *Engine) ReleaseTokens(pid int32, ids []shm.TokenID) (int, error) {
	ctx, err := e.context(pid)
	if err != nil {
		return 0, err
	}
	return ctx.releaseTokens(ids), nil
}

// DebugTrace logs the accounting state of pid next to an opaque tag.
func (e *Engine) DebugTrace(pid int32, tag string, tk shm.TokenID) error {
	ctx, err := e.context(pid)
	if err != nil {
		return err
	}
	callID, active, flags := ctx.region.Control.LoadInterest()
	e.logger.Debug().
		Str("tag", tag).
		Int32("pid", pid).
		Uint32("token", uint32(tk)).
		Uint32("active_token", uint32(active)).
		Uint64("call_id", callID).
		Uint32("flags", flags).
		Str("state", probeState(ctx.state.Load()).String()).
		Int("live_tokens", ctx.liveTokens()).
		Msg("debug trace")

	return nil
}

// Shutdown stops every interposition: hooks become no-ops and no process
// can be mapped anymore. Regions stay valid until their consumers close
// them.
func (e *Engine) Shutdown() {
	if !e.shutdown.CompareAndSwap(false, true) {
		return
	}
	for i := range e.current {
		e.current[i].Store(nil)
	}
	e.contexts.Range(func(pid int32, ctx *PidContext) bool {
		e.registry.Remove(pid)
		ctx.kill()
		e.contexts.Delete(pid)
		return true
	})
	e.metrics.SetContexts(0)
	e.logger.Info().Msg("engine shut down")
}

// Stats sums the pools of every mapped process.
func (e *Engine) Stats() Stats {
	st := Stats{PerCPU: make([]int, e.registry.CPUs())}
	for cpu := range st.PerCPU {
		st.PerCPU[cpu] = e.registry.Len(cpu)
	}
	e.contexts.Range(func(_ int32, ctx *PidContext) bool {
		st.Contexts++
		acct, subsys := ctx.region.Slots()
		st.AcctSlots += acct
		st.SubsysSlots += subsys
		acct, subsys = ctx.region.InUse()
		st.AcctInUse += acct
		st.SubsysInUse += subsys
		st.LiveTokens += ctx.liveTokens()
		return true
	})

	return st
}

func (e *Engine) context(pid int32) (*PidContext, error) {
	if e.shutdown.Load() {
		return nil, ErrShutdown
	}
	ctx, ok := e.contexts.Load(pid)
	if !ok {
		return nil, errors.Wrapf(ErrNotMapped, "pid %d", pid)
	}
	return ctx, nil
}

func (e *Engine) currentOn(cpu int) *PidContext {
	if cpu < 0 || cpu >= len(e.current) {
		return nil
	}
	return e.current[cpu].Load()
}
