package replay

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/clock"
	"github.com/maxgio92/kacct/pkg/consumer"
	"github.com/maxgio92/kacct/pkg/hyp"
	"github.com/maxgio92/kacct/pkg/shm"
)

// Runner replays scenarios. A runner can replay one scenario at a time.
type Runner struct {
	status atomic.Pointer[Status]

	*RunnerOptions
}

// Status is a snapshot of a replay in progress, taken between steps.
type Status struct {
	Scenario string
	Step     int
	Steps    int
	Stats    acct.Stats
}

// Result is what a replay measured.
type Result struct {
	Scenario string
	// Measurements counts the measurements read back.
	Measurements int
	// Dropped counts the calls that found the accounting pool exhausted.
	Dropped int
	// NotReady counts the reads that found the measurement still open.
	NotReady   int
	Aggregator *consumer.Aggregator
	Stats      acct.Stats
}

func NewRunner(opts ...RunnerOpt) *Runner {
	r := &Runner{RunnerOptions: &RunnerOptions{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = catalog.Default()
	}
	if r.logger == nil {
		logger := log.Nop()
		r.logger = &logger
	}
	l := r.logger.With().Str("component", "replay").Logger()
	r.logger = &l

	return r
}

// Status returns the last snapshot of the running replay, nil before the
// first step.
func (r *Runner) Status() *Status {
	return r.status.Load()
}

// replay is the state of a single run.
type replay struct {
	*Runner
	sc      *Scenario
	clk     *clock.Manual
	ring    *hyp.Ring
	engine  *acct.Engine
	handles map[int32]*consumer.Handle
	tokens  map[int32]map[string]shm.TokenID
	result  *Result
	logger  log.Logger
}

// Run replays sc on a fresh engine. Every process is closed and the engine
// shut down when it returns.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	rp := &replay{
		Runner:  r,
		sc:      sc,
		clk:     clock.NewManual(),
		handles: make(map[int32]*consumer.Handle, len(sc.Processes)),
		tokens:  make(map[int32]map[string]shm.TokenID, len(sc.Processes)),
		result: &Result{
			Scenario:   sc.Name,
			Aggregator: consumer.NewAggregator(r.capacity),
		},
		logger: r.logger.With().Str("scenario", sc.Name).Logger(),
	}

	opts := append([]acct.EngineOpt{}, r.engineOpts...)
	opts = append(opts,
		acct.WithCPUs(sc.CPUs),
		acct.WithClock(rp.clk),
		acct.WithPseudo(r.catalog.Pseudo()...),
		acct.WithMetrics(r.metrics),
		acct.WithLogger(r.logger),
	)
	if sc.Hypervisor {
		rp.ring = hyp.NewRing(r.ringSize)
		opts = append(opts, acct.WithHypervisorRing(rp.ring))
	}
	engine, err := acct.NewEngine(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create engine")
	}
	rp.engine = engine
	defer engine.Shutdown()
	defer rp.closeAll()

	for _, p := range sc.Processes {
		if err := rp.open(p); err != nil {
			return nil, err
		}
	}

	rp.snapshot(0)
	for i, step := range sc.Steps {
		n := step.Repeat
		if n == 0 {
			n = 1
		}
		for j := 0; j < n; j++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if err := rp.step(step); err != nil {
				return nil, errors.Wrapf(err, "step %d (%s)", i, step.Op)
			}
		}
		rp.snapshot(i + 1)
	}
	rp.result.Stats = engine.Stats()

	rp.logger.Info().
		Int("measurements", rp.result.Measurements).
		Int("dropped", rp.result.Dropped).
		Int("subsystems", rp.result.Aggregator.Len()).
		Msg("scenario replayed")

	return rp.result, nil
}

func (rp *replay) snapshot(step int) {
	rp.status.Store(&Status{
		Scenario: rp.sc.Name,
		Step:     step,
		Steps:    len(rp.sc.Steps),
		Stats:    rp.engine.Stats(),
	})
}

func (rp *replay) open(p Process) error {
	h, err := consumer.Open(rp.engine, p.Pid, p.CPU, consumer.WithLogger(rp.Runner.logger))
	if err != nil {
		return errors.Wrapf(err, "failed to open process %d", p.Pid)
	}
	rp.handles[p.Pid] = h
	rp.tokens[p.Pid] = make(map[string]shm.TokenID)
	if p.Aggregate != nil {
		s := shm.DefaultSettings()
		s.Aggregate = *p.Aggregate
		if err := h.Configure(s); err != nil {
			return errors.Wrapf(err, "failed to configure process %d", p.Pid)
		}
	}

	return nil
}

func (rp *replay) closeAll() {
	for pid, h := range rp.handles {
		if err := h.Close(); err != nil {
			rp.logger.Warn().Err(err).Int32("pid", pid).Msg("failed to close process")
		}
	}
}

func (rp *replay) handle(pid int32) (*consumer.Handle, error) {
	h, ok := rp.handles[pid]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProcess, "pid %d", pid)
	}
	return h, nil
}

// token resolves a token alias of pid. The empty alias is the default
// token.
func (rp *replay) token(pid int32, alias string) (shm.TokenID, error) {
	switch alias {
	case "":
		return shm.TokenDefault, nil
	case TokenNull:
		return shm.TokenNull, nil
	}
	tk, ok := rp.tokens[pid][alias]
	if !ok {
		return shm.TokenNull, errors.Wrapf(ErrUnknownToken, "%q of pid %d", alias, pid)
	}
	return tk, nil
}

func (rp *replay) subsys(name string) (shm.SubsysID, error) {
	s, err := rp.catalog.Lookup(name)
	if err != nil {
		return 0, err
	}
	return s.ID, nil
}

func (rp *replay) step(s Step) error {
	switch s.Op {
	case OpAdvance:
		rp.advance(s)
		return nil
	case OpEnter, OpExit, OpCall:
		id, err := rp.subsys(s.Subsys)
		if err != nil {
			return err
		}
		if s.Op != OpExit {
			if !rp.engine.SubsysEntry(s.CPU, id) {
				rp.logger.Debug().Str("subsys", s.Subsys).Int("cpu", s.CPU).Msg("entry not accounted")
			}
		}
		if s.Op == OpCall {
			rp.advance(s)
		}
		if s.Op != OpEnter {
			rp.engine.SubsysExit(s.CPU, id)
		}
		return nil
	case OpSched:
		rp.engine.OnContextSwitch(s.Prev, s.Next, s.CPU)
		return nil
	case OpMigrate:
		rp.engine.OnMigrate(s.Pid, s.From, s.To)
		return nil
	case OpHyp:
		return rp.hyp(s)
	}

	h, err := rp.handle(s.Pid)
	if err != nil {
		return err
	}
	switch s.Op {
	case OpToken:
		if s.Token == "" || s.Token == TokenNull {
			return errors.Wrapf(ErrInvalidScenario, "token alias %q is reserved", s.Token)
		}
		tk, err := h.GetToken()
		if err != nil {
			return err
		}
		rp.tokens[s.Pid][s.Token] = tk
	case OpSwitch:
		tk, err := rp.token(s.Pid, s.Token)
		if err != nil {
			return err
		}
		_, err = h.SwitchToken(tk, s.Reset)
		return err
	case OpInterest:
		tk, err := rp.token(s.Pid, s.Token)
		if err != nil {
			return err
		}
		flags, err := interestFlags(s.Flags)
		if err != nil {
			return err
		}
		if s.Reset {
			flags |= shm.FlagReset
		}
		_, err = h.DeclareInterest(tk, flags)
		return err
	case OpRead:
		return rp.read(h, s)
	case OpFree:
		tk, err := rp.token(s.Pid, s.Token)
		if err != nil {
			return err
		}
		if err := h.FreeToken(tk); err != nil {
			return err
		}
		delete(rp.tokens[s.Pid], s.Token)
	case OpTrim:
		n, err := h.Trim()
		if err != nil {
			return err
		}
		rp.logger.Debug().Int32("pid", s.Pid).Int("released", n).Msg("tokens trimmed")
	case OpDebug:
		return h.DebugTrace(s.Tag)
	case OpEnd:
		delete(rp.handles, s.Pid)
		delete(rp.tokens, s.Pid)
		return h.Close()
	}

	return nil
}

// advance moves the clock. A step without a wall-clock delta moves both
// counters by its cycles.
func (rp *replay) advance(s Step) {
	wall := s.Wall
	if wall == 0 {
		wall = s.Cycles
	}
	rp.clk.Advance(s.Cycles, wall)
}

func (rp *replay) read(h *consumer.Handle, s Step) error {
	tk, err := rp.token(s.Pid, s.Token)
	if err != nil {
		return err
	}
	rec, err := h.Read(tk)
	switch {
	case errors.Is(err, consumer.ErrNotReady):
		rp.result.NotReady++
		rp.logger.Warn().Err(err).Int32("pid", s.Pid).Str("token", s.Token).Msg("measurement not ready")
		return nil
	case errors.Is(err, consumer.ErrPoolExhausted):
		rp.result.Dropped++
		return nil
	case err != nil:
		return err
	}

	residual, err := h.MergeRecord(rp.result.Aggregator, rec)
	if err != nil {
		return err
	}
	if residual > 0 {
		rp.logger.Warn().Int("residual", residual).Msg("aggregator full")
	}
	rp.result.Measurements++

	return nil
}

func (rp *replay) hyp(s Step) error {
	var flags hyp.Flags
	for _, f := range s.Flags {
		switch strings.ToLower(f) {
		case "in":
			flags |= hyp.FlagIn
		case "out":
			flags |= hyp.FlagOut
		case "yield":
			flags |= hyp.FlagYield
		case "block":
			flags |= hyp.FlagBlock
		default:
			return errors.Wrapf(ErrInvalidScenario, "unknown hypervisor flag %q", f)
		}
	}
	now := rp.clk.Now()
	rp.ring.Publish(hyp.Event{
		CPU:       s.CPU,
		Timestamp: now.Wall,
		Cycles:    now.Cycles,
		Flags:     flags,
		Credit:    s.Credit,
	})

	return nil
}

func interestFlags(names []string) (uint32, error) {
	var flags uint32
	for _, f := range names {
		switch strings.ToLower(f) {
		case "reset":
			flags |= shm.FlagReset
		case "stop":
			flags |= shm.FlagStop
		default:
			return 0, errors.Wrapf(ErrInvalidScenario, "unknown interest flag %q", f)
		}
	}
	return flags, nil
}
