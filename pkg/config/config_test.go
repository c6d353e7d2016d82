package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kacct.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.NoError(t, cfg.Validate())
	require.Nil(t, cfg.Ring())

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	require.NotZero(t, cat.Len())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[engine]
cpus = 2
acct_records = 8
hypervisor = true
ring_size = 32

[logging]
level = "debug"

[metrics]
enabled = false

[[subsystems]]
id = 1
name = "vfs"

[[subsystems]]
id = 2
name = "irq"
pseudo = true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Engine.CPUs)
	require.Equal(t, 8, cfg.Engine.AcctRecords)
	require.Equal(t, acct.DefaultSubsysRecords, cfg.Engine.SubsysRecords, "missing values keep their default")
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.Metrics.Enabled)
	require.Equal(t, 32, cfg.Ring().Cap())

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())

	e, err := acct.NewEngine(cfg.EngineOptions(cat)...)
	require.NoError(t, err)
	require.Equal(t, 2, e.CPUs())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "cpus", body: "[engine]\ncpus = 0\n"},
		{name: "registry bits", body: "[engine]\nregistry_bits = 64\n"},
		{name: "pools", body: "[engine]\nacct_records = -1\n"},
		{name: "tokens", body: "[engine]\nmax_tokens = 0\n"},
		{name: "stack", body: "[engine]\nstack_depth = 0\n"},
		{name: "ring", body: "[engine]\nhypervisor = true\nring_size = 0\n"},
		{name: "subsystems", body: "[[subsystems]]\nid = 1\nname = \"a\"\n[[subsystems]]\nid = 1\nname = \"b\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			require.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = config.Load(writeConfig(t, "[engine\n"))
	require.Error(t, err)
}
