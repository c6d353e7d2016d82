package cmd

import (
	"context"

	log "github.com/rs/zerolog"

	"github.com/maxgio92/kacct/pkg/cmd/options"
)

type Options struct {
	*options.Options
}

type Option func(o *Options)

func NewOptions(opts ...Option) *Options {
	o := new(Options)
	o.Options = new(options.Options)
	o.Ctx = context.Background()

	for _, f := range opts {
		f(o)
	}

	return o
}

func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Ctx = ctx
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

func WithConfigPath(path string) Option {
	return func(o *Options) {
		o.ConfigPath = path
	}
}
