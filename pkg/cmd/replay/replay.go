package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/kacct/internal/output"
	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/cmd/options"
	kreplay "github.com/maxgio92/kacct/pkg/replay"
	"github.com/maxgio92/kacct/pkg/report"
)

const CmdName = "replay"

type Options struct {
	report     bool
	reportPath string
	status     bool
	capacity   int

	*options.Options
}

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   CmdName + " <scenario.yaml>",
		Short: "Replay a scenario of subsystem crossings and print what was charged",
		Long: fmt.Sprintf(`
%s drives the accounting engine through a scenario: processes crossing kernel
subsystems, context switches, migrations, hypervisor events, and the consumer
calls that declare interest and read measurements back.
`, CmdName),
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}

	cmd.Flags().BoolVar(&o.report, "report", false, fmt.Sprintf("Generate report (as %s)", settings.ReportFileName))
	cmd.Flags().StringVar(&o.reportPath, "report-path", settings.ReportFileName, "Path of the generated report")
	cmd.Flags().BoolVar(&o.status, "status", false, "Periodically print the status of the replay")
	cmd.Flags().IntVar(&o.capacity, "capacity", 0, "Maximum number of subsystems aggregated (0 for all)")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, args []string) error {
	cfg, err := o.Init(cmd)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return errors.Wrap(err, "failed to build the subsystem catalog")
	}

	sc, err := kreplay.Load(args[0])
	if err != nil {
		return err
	}

	runner := kreplay.NewRunner(
		kreplay.WithCatalog(cat),
		kreplay.WithEngineOptions(cfg.EngineOptions(cat)...),
		kreplay.WithRingSize(cfg.Engine.RingSize),
		kreplay.WithCapacity(o.capacity),
		kreplay.WithLogger(&o.Logger),
	)

	ctx, cancel := context.WithCancel(o.Ctx)
	defer cancel()
	if o.status {
		go PrintStatus(ctx, runner)
	}

	res, err := runner.Run(ctx, sc)
	cancel()
	if err != nil {
		return errors.Wrapf(err, "failed to replay %s", sc.Name)
	}

	r := report.NewReport(
		report.WithReportScenario(res.Scenario),
		report.WithReportMeasurements(res.Measurements),
		report.WithReportDropped(res.Dropped),
		report.WithReportAggregator(res.Aggregator, cat),
		report.WithReportStats(res.Stats),
	)
	PrintSummary(cmd.OutOrStdout(), r)

	if !o.report {
		return nil
	}
	f, err := os.Create(o.reportPath)
	if err != nil {
		return errors.Wrap(err, "failed to create report file")
	}
	defer f.Close()
	if err := r.WriteReport(f); err != nil {
		return errors.Wrap(err, "failed to write report")
	}
	o.Logger.Info().Str("path", o.reportPath).Msg("report written")

	return nil
}

// PrintStatus refreshes a status line with the progress of the running
// replay until ctx is done.
func PrintStatus(ctx context.Context, runner *kreplay.Runner) {
	output.StatusBar(ctx,
		500*time.Millisecond,
		func() {
			st := runner.Status()
			if st == nil {
				return
			}
			output.PrintRight(output.PrettyPoolStatus(
				output.Percent(st.Step, st.Steps),
				output.Percent(st.Stats.AcctInUse, st.Stats.AcctSlots),
				output.Percent(st.Stats.SubsysInUse, st.Stats.SubsysSlots),
				st.Stats.LiveTokens,
			))
		},
	)
}

// PrintSummary writes one line per aggregated subsystem.
func PrintSummary(w io.Writer, r *report.Report) {
	fmt.Fprintf(w, "scenario %s: %d measurements, %d dropped, %d residual\n",
		r.Scenario, r.Measurements, r.Dropped, r.Residual)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSYSTEM\tENTRIES\tCYCLES\tTIME\tCPU CYCLES\tSCHED OUT\tHYP OUT")
	for _, s := range r.Subsystems {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Name, s.Entries, s.Cycles, s.Time, s.CPUCycles, s.SchedOutCycles, s.HypOutCycles)
	}
	tw.Flush()
}
