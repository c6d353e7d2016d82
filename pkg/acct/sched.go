package acct

// OnContextSwitch is called when cpu switches from prev to next. The
// subsystem prev leaves open stops being charged for running time and the
// one next resumes gets the interval it spent switched out.
func (e *Engine) OnContextSwitch(prev, next int32, cpu int) {
	if cpu < 0 || cpu >= len(e.current) || e.shutdown.Load() {
		return
	}

	if cur := e.current[cpu].Load(); cur != nil && cur.pid == prev && cur.enter(stateScheduling) {
		if len(cur.stack) > 0 && cur.record() != nil {
			now := e.clock.Now()
			cur.charge(now)
			cur.out = now
			cur.switchedOut = true
		}
		cur.leave()
	}

	ctx, ok := e.registry.Lookup(cpu, next)
	if !ok {
		e.current[cpu].Store(nil)
		return
	}
	if ctx.enter(stateScheduling) {
		if ctx.switchedOut {
			ctx.switchedOut = false
			e.chargeSwitchedOut(ctx)
		}
		ctx.leave()
	}
	e.current[cpu].Store(ctx)
}

// chargeSwitchedOut adds the time since ctx was switched out to the
// scheduled-out share of its open subsystem. The interval itself is
// charged to the subsystem on its next crossing, as the snapshot was left
// at the switch-out stamp.
func (e *Engine) chargeSwitchedOut(ctx *PidContext) {
	f := ctx.top()
	if f == nil || ctx.record() == nil {
		return
	}
	s := ctx.subsys(f.slot)
	if s == nil {
		return
	}
	d := e.clock.Now().Sub(ctx.out)
	s.SchedOutCycles += d.Cycles
	s.SchedOutTime += d.Wall
}

// OnMigrate is called when pid moves from one processor to another. The
// context is shared by reference with the destination table.
func (e *Engine) OnMigrate(pid int32, from, to int) {
	if _, ok := e.registry.Lookup(to, pid); ok {
		return
	}
	ctx, ok := e.registry.Lookup(from, pid)
	if !ok {
		if ctx, ok = e.contexts.Load(pid); !ok {
			return
		}
	}
	if err := e.registry.Insert(to, pid, ctx); err != nil {
		e.metrics.IncRegistryFull()
		e.logger.Warn().Err(err).Int32("pid", pid).Int("from", from).Int("to", to).Msg("process will not be accounted after migration")
	}
}

// OnExit forgets pid on every processor and releases its probe scratch.
func (e *Engine) OnExit(pid int32) {
	ctx, ok := e.contexts.LoadAndDelete(pid)
	if !ok {
		return
	}
	e.registry.Remove(pid)
	for i := range e.current {
		e.current[i].CompareAndSwap(ctx, nil)
	}
	ctx.kill()
	e.metrics.SetContexts(e.contexts.Size())

	e.logger.Debug().Int32("pid", pid).Msg("process exited")
}
