// Package consumer is the unprivileged side of the accounting protocol. A
// Handle maps the region the engine shares with a process, declares what
// the next calls should be charged to, and reads measurements back into
// indexed sets that can be merged across calls.
//
// The package only depends on the shared memory layout. Records are handed
// over by slot index: the engine claims them, the consumer releases them.
package consumer

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/kacct/pkg/shm"
)

// Engine is the set of control operations a Handle needs from the engine.
type Engine interface {
	Map(pid int32, cpu int) (*shm.Region, error)
	Unmap(pid int32)
	Configure(pid int32, s shm.Settings) error
	RequestTokens(pid int32) (int, error)
	ReleaseTokens(pid int32, ids []shm.TokenID) (int, error)
	DebugTrace(pid int32, tag string, tk shm.TokenID) error
}

type tokenState uint8

const (
	tokenActive tokenState = iota + 1
	tokenFree
)

// pendingCall is the range of call ids whose measurement of a token has not
// been read yet.
type pendingCall struct {
	first uint64
	last  uint64
}

type Handle struct {
	engine Engine
	pid    int32
	region *shm.Region

	// mu guards everything below.
	mu        sync.Mutex
	callID    uint64
	current   shm.TokenID
	aggregate bool
	tokens    map[shm.TokenID]tokenState
	ready     []shm.TokenID
	free      []shm.TokenID
	pending   map[shm.TokenID]pendingCall
	// resetNext holds the tokens freed while their measurement was still
	// open. The engine may still hold that record, so the next owner's
	// first declaration starts from scratch.
	resetNext map[shm.TokenID]bool
	closed    bool

	*HandleOptions
}

// Open maps the region of pid and checks that its layout matches the one
// this package was built against.
func Open(engine Engine, pid int32, cpu int, opts ...HandleOpt) (*Handle, error) {
	h := &Handle{
		engine:        engine,
		pid:           pid,
		current:       shm.TokenDefault,
		aggregate:     shm.DefaultSettings().Aggregate,
		tokens:        make(map[shm.TokenID]tokenState),
		pending:       make(map[shm.TokenID]pendingCall),
		resetNext:     make(map[shm.TokenID]bool),
		HandleOptions: &HandleOptions{keepFree: shm.TokenBatch},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		logger := log.Nop()
		h.logger = &logger
	}
	l := h.logger.With().Str("component", "consumer").Int32("pid", pid).Logger()
	h.logger = &l

	region, err := engine.Map(pid, cpu)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map pid %d", pid)
	}
	if err := region.Control.Check(); err != nil {
		engine.Unmap(pid)
		region.Close()
		return nil, err
	}
	h.region = region

	acct, subsys := region.Slots()
	h.logger.Debug().Int("acct_slots", acct).Int("subsys_slots", subsys).Msg("region mapped")

	return h, nil
}

func (h *Handle) Pid() int32 {
	return h.pid
}

// Region returns the memory shared with the engine.
func (h *Handle) Region() *shm.Region {
	return h.region
}

// Current returns the token calls are being charged to.
func (h *Handle) Current() shm.TokenID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Configure applies the one-time settings of the process.
func (h *Handle) Configure(s shm.Settings) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if err := h.engine.Configure(h.pid, s); err != nil {
		return errors.Wrap(err, "failed to configure")
	}
	h.aggregate = s.Aggregate

	return nil
}

// DeclareInterest makes the next calls of the process be charged to tk and
// returns the call id identifying them. FlagStop and the null token suspend
// accounting.
func (h *Handle) DeclareInterest(tk shm.TokenID, flags uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.declare(tk, flags)
}

func (h *Handle) declare(tk shm.TokenID, flags uint32) (uint64, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if tk != shm.TokenDefault && tk != shm.TokenNull && h.tokens[tk] != tokenActive {
		return 0, errors.Wrapf(ErrTokenNotActive, "token %d", tk)
	}

	h.callID++
	if tk != shm.TokenNull && flags&shm.FlagStop == 0 {
		if h.resetNext[tk] {
			flags |= shm.FlagReset
			delete(h.resetNext, tk)
		}
		p, ok := h.pending[tk]
		if !ok || tk == shm.TokenDefault || flags&shm.FlagReset != 0 || !h.aggregate {
			p.first = h.callID
		}
		p.last = h.callID
		h.pending[tk] = p
	}
	h.region.Control.Declare(h.callID, tk, flags)

	return h.callID, nil
}

// DebugTrace asks the engine to log its state for the current token.
func (h *Handle) DebugTrace(tag string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.engine.DebugTrace(h.pid, tag, h.current)
}

// Close gives every token back to the engine, stops the accounting of the
// process and unmaps its region.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	ids := append([]shm.TokenID{}, h.ready...)
	ids = append(ids, h.region.Control.TakeTokens()...)
	for tk := range h.tokens {
		ids = append(ids, tk)
	}
	if len(ids) > 0 {
		if _, err := h.engine.ReleaseTokens(h.pid, ids); err != nil {
			h.logger.Debug().Err(err).Int("tokens", len(ids)).Msg("failed to release tokens")
		}
	}
	h.engine.Unmap(h.pid)
	h.closed = true
	h.tokens, h.ready, h.free = nil, nil, nil
	h.resetNext = nil

	return h.region.Close()
}
