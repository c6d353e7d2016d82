package replay

import (
	log "github.com/rs/zerolog"

	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/metrics"
)

type RunnerOptions struct {
	catalog    *catalog.Catalog
	engineOpts []acct.EngineOpt
	ringSize   int
	capacity   int
	metrics    *metrics.Metrics

	logger *log.Logger
}

type RunnerOpt func(*Runner)

func WithCatalog(cat *catalog.Catalog) RunnerOpt {
	return func(r *Runner) {
		r.catalog = cat
	}
}

// WithEngineOptions adds options to the engine built for every scenario.
// The scenario's own CPU count, clock and ring take precedence.
func WithEngineOptions(opts ...acct.EngineOpt) RunnerOpt {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

func WithRingSize(size int) RunnerOpt {
	return func(r *Runner) {
		r.ringSize = size
	}
}

// WithCapacity bounds the number of subsystems the aggregated result holds.
func WithCapacity(capacity int) RunnerOpt {
	return func(r *Runner) {
		r.capacity = capacity
	}
}

func WithMetrics(m *metrics.Metrics) RunnerOpt {
	return func(r *Runner) {
		r.metrics = m
	}
}

func WithLogger(logger *log.Logger) RunnerOpt {
	return func(r *Runner) {
		r.logger = logger
	}
}
