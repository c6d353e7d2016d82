package options

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/maxgio92/kacct/pkg/config"
)

const (
	FlagLogLevel = "log-level"
	FlagConfig   = "config"
)

// Options are shared by every command.
type Options struct {
	Ctx        context.Context
	Logger     log.Logger
	LogLevel   string
	ConfigPath string
}

// Init loads the configuration and sets the logger level: the flag when
// given, the configured level otherwise.
func (o *Options) Init(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := o.LogLevel
	if f := cmd.Flags().Lookup(FlagLogLevel); (f == nil || !f.Changed) && cfg.Logging.Level != "" {
		level = cfg.Logging.Level
	}
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	o.Logger = o.Logger.Level(logLevel)

	return cfg, nil
}
