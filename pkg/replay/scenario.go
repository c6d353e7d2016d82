// Package replay drives the engine and its consumers through a scenario
// read from YAML: subsystem crossings, scheduler events, hypervisor events
// and consumer calls, on a clock that only moves when told to.
package replay

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpToken    = "token"
	OpSwitch   = "switch"
	OpInterest = "interest"
	OpEnter    = "enter"
	OpExit     = "exit"
	OpCall     = "call"
	OpAdvance  = "advance"
	OpSched    = "sched"
	OpMigrate  = "migrate"
	OpHyp      = "hyp"
	OpRead     = "read"
	OpFree     = "free"
	OpTrim     = "trim"
	OpEnd      = "end"
	OpDebug    = "debug"
)

var knownOps = map[string]bool{
	OpToken: true, OpSwitch: true, OpInterest: true, OpEnter: true, OpExit: true,
	OpCall: true, OpAdvance: true, OpSched: true, OpMigrate: true, OpHyp: true,
	OpRead: true, OpFree: true, OpTrim: true, OpEnd: true, OpDebug: true,
}

// TokenNull is the alias of the null token in scenarios. An empty alias is
// the default token.
const TokenNull = "null"

type Scenario struct {
	Name       string    `yaml:"name"`
	CPUs       int       `yaml:"cpus"`
	Hypervisor bool      `yaml:"hypervisor"`
	Processes  []Process `yaml:"processes"`
	Steps      []Step    `yaml:"steps"`
}

type Process struct {
	Pid int32 `yaml:"pid"`
	CPU int   `yaml:"cpu"`
	// Aggregate, when set, configures the process before its first call.
	Aggregate *bool `yaml:"aggregate,omitempty"`
}

type Step struct {
	Op     string   `yaml:"op"`
	Pid    int32    `yaml:"pid,omitempty"`
	CPU    int      `yaml:"cpu,omitempty"`
	Subsys string   `yaml:"subsys,omitempty"`
	Token  string   `yaml:"token,omitempty"`
	Reset  bool     `yaml:"reset,omitempty"`
	Flags  []string `yaml:"flags,omitempty"`
	Cycles int64    `yaml:"cycles,omitempty"`
	Wall   int64    `yaml:"wall,omitempty"`
	Prev   int32    `yaml:"prev,omitempty"`
	Next   int32    `yaml:"next,omitempty"`
	From   int      `yaml:"from,omitempty"`
	To     int      `yaml:"to,omitempty"`
	Credit int64    `yaml:"credit,omitempty"`
	Tag    string   `yaml:"tag,omitempty"`
	Repeat int      `yaml:"repeat,omitempty"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenario %s", path)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	return sc, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	sc := new(Scenario)
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, errors.Wrap(err, "failed to decode scenario")
	}
	if sc.CPUs == 0 {
		sc.CPUs = 1
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Scenario) Validate() error {
	if sc.CPUs < 0 {
		return errors.Wrapf(ErrInvalidScenario, "cpus must be positive, got %d", sc.CPUs)
	}
	if len(sc.Processes) == 0 {
		return errors.Wrap(ErrInvalidScenario, "no process")
	}
	pids := make(map[int32]bool, len(sc.Processes))
	for _, p := range sc.Processes {
		if pids[p.Pid] {
			return errors.Wrapf(ErrInvalidScenario, "duplicate process %d", p.Pid)
		}
		if p.CPU < 0 || p.CPU >= sc.CPUs {
			return errors.Wrapf(ErrInvalidScenario, "process %d on cpu %d out of %d", p.Pid, p.CPU, sc.CPUs)
		}
		pids[p.Pid] = true
	}
	for i, s := range sc.Steps {
		if !knownOps[s.Op] {
			return errors.Wrapf(ErrInvalidScenario, "step %d: unknown op %q", i, s.Op)
		}
		if s.Repeat < 0 {
			return errors.Wrapf(ErrInvalidScenario, "step %d: negative repeat", i)
		}
		if s.Op == OpHyp && !sc.Hypervisor {
			return errors.Wrapf(ErrInvalidScenario, "step %d: hypervisor event in a non virtualized scenario", i)
		}
	}

	return nil
}
