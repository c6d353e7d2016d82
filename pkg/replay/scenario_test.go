package replay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	sc, err := Parse([]byte("name: x\nprocesses: [{pid: 3}]\nsteps: [{op: advance, cycles: 1}]"))
	require.NoError(t, err)
	require.Equal(t, 1, sc.CPUs)
	require.Equal(t, int32(3), sc.Processes[0].Pid)
	require.Nil(t, sc.Processes[0].Aggregate)
	require.Equal(t, OpAdvance, sc.Steps[0].Op)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"no process":          "steps: []",
		"duplicate process":   "processes: [{pid: 1}, {pid: 1}]",
		"cpu out of range":    "cpus: 2\nprocesses: [{pid: 1, cpu: 2}]",
		"unknown op":          "processes: [{pid: 1}]\nsteps: [{op: fly}]",
		"negative repeat":     "processes: [{pid: 1}]\nsteps: [{op: advance, repeat: -1}]",
		"hyp not virtualized": "processes: [{pid: 1}]\nsteps: [{op: hyp, flags: [in]}]",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("processes: {"))
	require.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	require.Error(t, err)
}

func TestInterestFlags(t *testing.T) {
	_, err := interestFlags([]string{"Reset", "stop"})
	require.NoError(t, err)
	_, err = interestFlags([]string{"pause"})
	require.ErrorIs(t, err, ErrInvalidScenario)
}
