// Package report renders aggregated measurements as JSON.
package report

import (
	"encoding/json"
	"io"

	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/consumer"
)

type Report struct {
	Scenario     string         `json:"scenario"`
	Measurements int            `json:"measurements"`
	Dropped      int            `json:"dropped"`
	Residual     int            `json:"residual"`
	Subsystems   []SubsysReport `json:"subsystems"`
	Stats        *acct.Stats    `json:"stats,omitempty"`
}

// SubsysReport is the aggregate of one subsystem.
type SubsysReport struct {
	ID             uint16 `json:"id"`
	Name           string `json:"name"`
	Entries        uint32 `json:"entries"`
	Exits          uint32 `json:"exits"`
	Cycles         int64  `json:"cycles"`
	Time           int64  `json:"time_ns"`
	CPUCycles      int64  `json:"cpu_cycles"`
	SchedOutCycles int64  `json:"sched_out_cycles"`
	SchedOutTime   int64  `json:"sched_out_time_ns"`
	HypOutCycles   int64  `json:"hyp_out_cycles"`
	HypOutTime     int64  `json:"hyp_out_time_ns"`
	MinCredit      *int64 `json:"min_credit,omitempty"`
	MaxCredit      *int64 `json:"max_credit,omitempty"`
}

type ReportOption func(*Report)

func NewReport(opts ...ReportOption) *Report {
	report := new(Report)
	for _, opt := range opts {
		opt(report)
	}

	return report
}

func WithReportScenario(name string) ReportOption {
	return func(o *Report) {
		o.Scenario = name
	}
}

func WithReportMeasurements(n int) ReportOption {
	return func(o *Report) {
		o.Measurements = n
	}
}

func WithReportDropped(n int) ReportOption {
	return func(o *Report) {
		o.Dropped = n
	}
}

// WithReportAggregator fills the subsystems and the residual count from agg,
// naming subsystems after cat.
func WithReportAggregator(agg *consumer.Aggregator, cat *catalog.Catalog) ReportOption {
	return func(o *Report) {
		o.Subsystems = FromSet(agg.Set(), cat)
		o.Residual = agg.Residual()
	}
}

func WithReportStats(st acct.Stats) ReportOption {
	return func(o *Report) {
		o.Stats = &st
	}
}

// FromSet converts every record of set, in set order.
func FromSet(set *consumer.IndexedSet, cat *catalog.Catalog) []SubsysReport {
	out := make([]SubsysReport, 0, set.Len())
	for i, id := range set.IDs {
		r := set.Set[i]
		sr := SubsysReport{
			ID:             uint16(id),
			Name:           cat.Name(id),
			Entries:        r.Entries,
			Exits:          r.Exits,
			Cycles:         r.Cycles,
			Time:           r.Time,
			CPUCycles:      r.Cycles - r.SchedOutCycles,
			SchedOutCycles: r.SchedOutCycles,
			SchedOutTime:   r.SchedOutTime,
			HypOutCycles:   r.HypOutCycles,
			HypOutTime:     r.HypOutTime,
		}
		if r.HasCredit() {
			minCredit, maxCredit := r.MinCredit, r.MaxCredit
			sr.MinCredit, sr.MaxCredit = &minCredit, &maxCredit
		}
		out = append(out, sr)
	}

	return out
}

func (r *Report) WriteReport(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
