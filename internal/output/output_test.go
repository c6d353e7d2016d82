package output

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestProgressBar(t *testing.T) {
	require.Equal(t, 10, utf8.RuneCountInString(ProgressBar(50, 10)))
	require.Equal(t, 5, strings.Count(ProgressBar(50, 10), "█"))
	require.Equal(t, 10, strings.Count(ProgressBar(250, 10), "█"))
	require.Zero(t, strings.Count(ProgressBar(-3, 10), "█"))
}

func TestPercent(t *testing.T) {
	require.Equal(t, 25, Percent(1, 4))
	require.Zero(t, Percent(3, 0))
}

func TestPrettyPoolStatus(t *testing.T) {
	s := PrettyPoolStatus(40, 50, 0, 8)
	require.Contains(t, s, " 40%")
	require.Contains(t, s, "Acct pool")
	require.Contains(t, s, "Tokens:    8")
}
