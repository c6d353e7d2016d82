package report_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/consumer"
	"github.com/maxgio92/kacct/pkg/report"
	"github.com/maxgio92/kacct/pkg/shm"
)

func TestNewReportWithOptions(t *testing.T) {
	r := report.NewReport(
		report.WithReportScenario("two-calls"),
		report.WithReportMeasurements(3),
		report.WithReportDropped(1),
		report.WithReportStats(acct.Stats{Contexts: 2}),
	)

	require.Equal(t, "two-calls", r.Scenario)
	require.Equal(t, 3, r.Measurements)
	require.Equal(t, 1, r.Dropped)
	require.Equal(t, 2, r.Stats.Contexts)
}

func TestFromSet(t *testing.T) {
	cat, err := catalog.New(catalog.Subsystem{ID: 1, Name: "vfs"})
	require.NoError(t, err)

	set := consumer.NewIndexedSet(0)
	agg := consumer.NewAggregator(0)
	_, err = consumer.Merge(agg, set)
	require.NoError(t, err)

	subs := report.FromSet(agg.Set(), cat)
	require.Empty(t, subs)
}

func TestWriteReportJSONOutput(t *testing.T) {
	r := report.NewReport(
		report.WithReportScenario("scenario"),
		report.WithReportStats(acct.Stats{PerCPU: []int{1}}),
	)
	r.Subsystems = []report.SubsysReport{{ID: uint16(shm.SubsysID(1)), Name: "vfs", Cycles: 10, CPUCycles: 7}}

	var buf bytes.Buffer
	require.NoError(t, r.WriteReport(&buf))

	var parsed report.Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Equal(t, r, &parsed)

	out := buf.String()
	require.True(t, strings.Contains(out, "cpu_cycles"))
	require.False(t, strings.Contains(out, "min_credit"), "credits are omitted when none was observed")
}
