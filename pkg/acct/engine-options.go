package acct

import (
	log "github.com/rs/zerolog"

	"github.com/maxgio92/kacct/pkg/clock"
	"github.com/maxgio92/kacct/pkg/hyp"
	"github.com/maxgio92/kacct/pkg/metrics"
	"github.com/maxgio92/kacct/pkg/shm"
)

const (
	DefaultStackDepth    = 20
	DefaultAcctRecords   = 64
	DefaultSubsysRecords = 512
	DefaultMaxTokens     = 64
)

type EngineOptions struct {
	cpus          int
	registryBits  uint
	acctRecords   int
	subsysRecords int
	maxTokens     int
	stackDepth    int

	clock   clock.Source
	ring    *hyp.Ring
	pseudo  [shm.NumSubsystems]bool
	metrics *metrics.Metrics

	logger *log.Logger
}

type EngineOpt func(*Engine)

func WithCPUs(cpus int) EngineOpt {
	return func(e *Engine) {
		e.cpus = cpus
	}
}

func WithRegistryBits(bits uint) EngineOpt {
	return func(e *Engine) {
		e.registryBits = bits
	}
}

// WithPools sets the number of accounting and subsystem records mapped for
// every process.
func WithPools(acct, subsys int) EngineOpt {
	return func(e *Engine) {
		e.acctRecords = acct
		e.subsysRecords = subsys
	}
}

// WithMaxTokens caps the user tokens live at once in a process.
func WithMaxTokens(n int) EngineOpt {
	return func(e *Engine) {
		e.maxTokens = n
	}
}

func WithStackDepth(depth int) EngineOpt {
	return func(e *Engine) {
		e.stackDepth = depth
	}
}

func WithClock(src clock.Source) EngineOpt {
	return func(e *Engine) {
		e.clock = src
	}
}

// WithHypervisorRing makes the engine fold the ring's scheduling events into
// the subsystem on top of the stack.
func WithHypervisorRing(ring *hyp.Ring) EngineOpt {
	return func(e *Engine) {
		e.ring = ring
	}
}

// WithPseudo marks subsystems that are only counted, never stacked.
func WithPseudo(ids ...shm.SubsysID) EngineOpt {
	return func(e *Engine) {
		for _, id := range ids {
			if int(id) < shm.NumSubsystems {
				e.pseudo[id] = true
			}
		}
	}
}

func WithMetrics(m *metrics.Metrics) EngineOpt {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *log.Logger) EngineOpt {
	return func(e *Engine) {
		e.logger = logger
	}
}
