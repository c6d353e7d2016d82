// Package config loads the kacct configuration from a TOML file.
package config

import (
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/hyp"
	"github.com/maxgio92/kacct/pkg/registry"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Engine     EngineConfig        `toml:"engine"`
	Logging    LoggingConfig       `toml:"logging"`
	Metrics    MetricsConfig       `toml:"metrics"`
	Subsystems []catalog.Subsystem `toml:"subsystems"`
}

type EngineConfig struct {
	CPUs          int  `toml:"cpus"`
	RegistryBits  uint `toml:"registry_bits"`
	AcctRecords   int  `toml:"acct_records"`
	SubsysRecords int  `toml:"subsys_records"`
	MaxTokens     int  `toml:"max_tokens"`
	StackDepth    int  `toml:"stack_depth"`
	// Hypervisor enables draining a hypervisor scheduling ring.
	Hypervisor bool `toml:"hypervisor"`
	RingSize   int  `toml:"ring_size"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			CPUs:          runtime.NumCPU(),
			RegistryBits:  registry.DefaultBits,
			AcctRecords:   acct.DefaultAcctRecords,
			SubsysRecords: acct.DefaultSubsysRecords,
			MaxTokens:     acct.DefaultMaxTokens,
			StackDepth:    acct.DefaultStackDepth,
			RingSize:      hyp.DefaultRingSize,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Listen: settings.DefaultMetricsAddr},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "failed to stat config file %s", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.CPUs <= 0:
		return errors.Wrapf(ErrInvalidConfig, "engine.cpus must be positive, got %d", e.CPUs)
	case e.RegistryBits == 0 || e.RegistryBits > registry.MaxBits:
		return errors.Wrapf(ErrInvalidConfig, "engine.registry_bits must be in [1, %d], got %d", registry.MaxBits, e.RegistryBits)
	case e.AcctRecords <= 0 || e.SubsysRecords <= 0:
		return errors.Wrapf(ErrInvalidConfig, "engine pools must be positive, got %d/%d", e.AcctRecords, e.SubsysRecords)
	case e.MaxTokens <= 0:
		return errors.Wrapf(ErrInvalidConfig, "engine.max_tokens must be positive, got %d", e.MaxTokens)
	case e.StackDepth <= 0:
		return errors.Wrapf(ErrInvalidConfig, "engine.stack_depth must be positive, got %d", e.StackDepth)
	case e.Hypervisor && e.RingSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "engine.ring_size must be positive, got %d", e.RingSize)
	}
	if _, err := c.Catalog(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "subsystems: %v", err)
	}

	return nil
}

// Catalog builds the configured subsystem catalog, the default one when
// none is configured.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Subsystems) == 0 {
		return catalog.Default(), nil
	}
	return catalog.New(c.Subsystems...)
}

// Ring returns a new hypervisor ring when the engine runs virtualized.
func (c *Config) Ring() *hyp.Ring {
	if !c.Engine.Hypervisor {
		return nil
	}
	return hyp.NewRing(c.Engine.RingSize)
}

// EngineOptions translates the engine section into engine options. Pseudo
// subsystems are taken from cat.
func (c *Config) EngineOptions(cat *catalog.Catalog) []acct.EngineOpt {
	return []acct.EngineOpt{
		acct.WithCPUs(c.Engine.CPUs),
		acct.WithRegistryBits(c.Engine.RegistryBits),
		acct.WithPools(c.Engine.AcctRecords, c.Engine.SubsysRecords),
		acct.WithMaxTokens(c.Engine.MaxTokens),
		acct.WithStackDepth(c.Engine.StackDepth),
		acct.WithPseudo(cat.Pseudo()...),
	}
}
