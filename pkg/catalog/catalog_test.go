package catalog_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/shm"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		subs    []catalog.Subsystem
		wantErr error
	}{
		{
			name: "valid",
			subs: []catalog.Subsystem{{ID: 0, Name: "a"}, {ID: 1, Name: "b"}},
		},
		{
			name:    "duplicate id",
			subs:    []catalog.Subsystem{{ID: 0, Name: "a"}, {ID: 0, Name: "b"}},
			wantErr: catalog.ErrDuplicateID,
		},
		{
			name:    "duplicate name",
			subs:    []catalog.Subsystem{{ID: 0, Name: "a"}, {ID: 1, Name: "a"}},
			wantErr: catalog.ErrDuplicateName,
		},
		{
			name:    "id out of range",
			subs:    []catalog.Subsystem{{ID: shm.NumSubsystems, Name: "a"}},
			wantErr: catalog.ErrBadID,
		},
		{
			name:    "empty name",
			subs:    []catalog.Subsystem{{ID: 1}},
			wantErr: catalog.ErrEmptyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := catalog.New(tt.subs...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, len(tt.subs), c.Len())
		})
	}
}

func TestDefault(t *testing.T) {
	c := catalog.Default()
	require.NotZero(t, c.Len())

	irq, err := c.Lookup("irq")
	require.NoError(t, err)
	require.True(t, irq.Pseudo)
	require.Equal(t, []shm.SubsysID{irq.ID}, c.Pseudo())

	_, err = c.Lookup("nope")
	require.ErrorIs(t, err, catalog.ErrUnknown)

	all := c.All()
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestName(t *testing.T) {
	c, err := catalog.New(catalog.Subsystem{ID: 3, Name: "block"})
	require.NoError(t, err)

	require.Equal(t, "block", c.Name(3))
	require.Equal(t, "subsys-4", c.Name(4))

	s, ok := c.Get(3)
	require.True(t, ok)
	require.Equal(t, "block", s.Name)
}

func TestResolve(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	c, err := catalog.New(
		catalog.Subsystem{ID: 0, Name: "runtime", Symbol: "runtime.main"},
		catalog.Subsystem{ID: 1, Name: "missing", Symbol: "no_such_symbol_here"},
		catalog.Subsystem{ID: 2, Name: "bare"},
	)
	require.NoError(t, err)

	offsets, missing, err := c.Resolve(exe)
	require.NoError(t, err)
	require.Contains(t, offsets, shm.SubsysID(0))
	require.NotZero(t, offsets[0])
	require.ElementsMatch(t, []string{"missing", "bare"}, missing)
}

func TestResolve_NoFile(t *testing.T) {
	_, _, err := catalog.Default().Resolve("/does/not/exist")
	require.Error(t, err)
}
