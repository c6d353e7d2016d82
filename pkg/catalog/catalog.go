// Package catalog names the instrumented subsystems and tells which of them
// are pseudo-subsystems, only counted and never stacked.
package catalog

import (
	"fmt"
	"sort"

	"github.com/aquasecurity/libbpfgo/helpers"
	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/pkg/shm"
)

// Subsystem describes one instrumented subsystem.
type Subsystem struct {
	ID     shm.SubsysID `toml:"id" yaml:"id" json:"id"`
	Name   string       `toml:"name" yaml:"name" json:"name"`
	Pseudo bool         `toml:"pseudo" yaml:"pseudo,omitempty" json:"pseudo,omitempty"`
	// Symbol is the function whose entry and return delimit the subsystem.
	Symbol string `toml:"symbol" yaml:"symbol,omitempty" json:"symbol,omitempty"`
}

type Catalog struct {
	byID   map[shm.SubsysID]Subsystem
	byName map[string]Subsystem
}

// Default is the catalog used when no subsystem is configured.
func Default() *Catalog {
	c, _ := New(
		Subsystem{ID: 0, Name: "syscall"},
		Subsystem{ID: 1, Name: "vfs", Symbol: "vfs_read"},
		Subsystem{ID: 2, Name: "ext4", Symbol: "ext4_file_read_iter"},
		Subsystem{ID: 3, Name: "block", Symbol: "submit_bio"},
		Subsystem{ID: 4, Name: "net", Symbol: "sock_sendmsg"},
		Subsystem{ID: 5, Name: "tcp", Symbol: "tcp_sendmsg"},
		Subsystem{ID: 6, Name: "mm", Symbol: "handle_mm_fault"},
		Subsystem{ID: 7, Name: "sched", Symbol: "schedule"},
		Subsystem{ID: 8, Name: "irq", Pseudo: true, Symbol: "irq_enter"},
	)
	return c
}

func New(subs ...Subsystem) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[shm.SubsysID]Subsystem, len(subs)),
		byName: make(map[string]Subsystem, len(subs)),
	}
	for _, s := range subs {
		if int(s.ID) >= shm.NumSubsystems {
			return nil, errors.Wrapf(ErrBadID, "%s: %d", s.Name, s.ID)
		}
		if s.Name == "" {
			return nil, errors.Wrapf(ErrEmptyName, "id %d", s.ID)
		}
		if _, ok := c.byID[s.ID]; ok {
			return nil, errors.Wrapf(ErrDuplicateID, "%d", s.ID)
		}
		if _, ok := c.byName[s.Name]; ok {
			return nil, errors.Wrapf(ErrDuplicateName, "%s", s.Name)
		}
		c.byID[s.ID] = s
		c.byName[s.Name] = s
	}

	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.byID)
}

// Lookup resolves a subsystem by name.
func (c *Catalog) Lookup(name string) (Subsystem, error) {
	s, ok := c.byName[name]
	if !ok {
		return Subsystem{}, errors.Wrapf(ErrUnknown, "%q", name)
	}
	return s, nil
}

func (c *Catalog) Get(id shm.SubsysID) (Subsystem, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Name returns the name of id, or a placeholder for ids not in the catalog.
func (c *Catalog) Name(id shm.SubsysID) string {
	if s, ok := c.byID[id]; ok {
		return s.Name
	}
	return fmt.Sprintf("subsys-%d", id)
}

// All returns the subsystems ordered by id.
func (c *Catalog) All() []Subsystem {
	out := make([]Subsystem, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pseudo returns the ids of the pseudo-subsystems.
func (c *Catalog) Pseudo() []shm.SubsysID {
	var ids []shm.SubsysID
	for _, s := range c.All() {
		if s.Pseudo {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Resolve returns the file offset of every subsystem symbol found in the
// ELF executable at path: the sites an instrumentation mechanism would
// patch. Subsystems without a symbol, or whose symbol is missing, are
// reported in the second return value.
func (c *Catalog) Resolve(path string) (map[shm.SubsysID]uint64, []string, error) {
	offsets := make(map[shm.SubsysID]uint64)
	var missing []string
	for _, s := range c.All() {
		if s.Symbol == "" {
			missing = append(missing, s.Name)
			continue
		}
		off, err := helpers.SymbolToOffset(path, s.Symbol)
		if err != nil {
			missing = append(missing, s.Name)
			continue
		}
		offsets[s.ID] = uint64(off)
	}
	if len(offsets) == 0 {
		return nil, missing, errors.Errorf("no subsystem symbol found in %s", path)
	}

	return offsets, missing, nil
}
