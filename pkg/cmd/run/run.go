package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/acct"
	"github.com/maxgio92/kacct/pkg/catalog"
	"github.com/maxgio92/kacct/pkg/cmd/common"
	"github.com/maxgio92/kacct/pkg/cmd/options"
	"github.com/maxgio92/kacct/pkg/consumer"
	"github.com/maxgio92/kacct/pkg/healthcheck"
	"github.com/maxgio92/kacct/pkg/metrics"
	"github.com/maxgio92/kacct/pkg/replay"
	"github.com/maxgio92/kacct/pkg/report"
)

const (
	CmdName = "run"

	shutdownTimeout = 10 * time.Second
)

type Options struct {
	scenarios     []string
	detach        bool
	report        bool
	reportPath    string
	socketPath    string
	metricsListen string

	*options.Options
}

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Run the accounting daemon",
		Long: fmt.Sprintf(`
%s starts the accounting engine, serves its metrics and statistics over HTTP
and its readiness over a unix socket. Scenarios given with --scenario are
replayed once the daemon is ready and aggregated into a report written on exit.
`, CmdName),
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}

	cmd.Flags().StringSliceVar(&o.scenarios, "scenario", nil, "Scenario files to replay once ready")
	cmd.Flags().BoolVarP(&o.detach, "detach", "d", false, fmt.Sprintf("Run %s as daemon", settings.CmdName))
	cmd.Flags().BoolVar(&o.report, "report", true, fmt.Sprintf("Generate report on exit (as %s)", settings.ReportFileName))
	cmd.Flags().StringVar(&o.reportPath, "report-path", settings.ReportFileName, "Path of the generated report")
	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.SocketPath, "Path of the readiness socket")
	cmd.Flags().StringVar(&o.metricsListen, "metrics-listen", "", "Address to serve metrics on, overriding the configuration")

	return cmd
}

// daemon is the state of a running daemon.
type daemon struct {
	*Options
	cat    *catalog.Catalog
	engine *acct.Engine
	reg    *prometheus.Registry
	m      *metrics.Metrics

	mu       sync.Mutex
	total    *consumer.Aggregator
	measured int
	dropped  int
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if o.detach {
		return o.daemonize()
	}

	cfg, err := o.Init(cmd)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	logger := o.Logger.With().Str("component", "daemon").Logger()

	if err := common.WritePid(os.Getpid()); err != nil {
		logger.Warn().Err(err).Msg("failed to write PID file")
	}
	defer os.Remove(settings.PidFile)

	d := &daemon{
		Options: o,
		cat:     cat,
		reg:     prometheus.NewRegistry(),
		total:   consumer.NewAggregator(0),
	}
	d.m = metrics.New(d.reg)

	engineOpts := append(cfg.EngineOptions(cat), acct.WithMetrics(d.m), acct.WithLogger(&o.Logger))
	if ring := cfg.Ring(); ring != nil {
		engineOpts = append(engineOpts, acct.WithHypervisorRing(ring))
	}
	d.engine, err = acct.NewEngine(engineOpts...)
	if err != nil {
		return errors.Wrap(err, "failed to create engine")
	}
	defer d.engine.Shutdown()

	listen := cfg.Metrics.Listen
	if o.metricsListen != "" {
		listen = o.metricsListen
	}
	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = &http.Server{Addr: listen, Handler: d.mux()}
	}

	hc := healthcheck.NewServer(o.socketPath, o.Logger)
	if err := hc.Listen(o.Ctx); err != nil {
		return err
	}
	defer hc.Shutdown()

	g, ctx := errgroup.WithContext(o.Ctx)
	if srv != nil {
		g.Go(func() error {
			logger.Info().Str("address", listen).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "failed to serve metrics")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		if srv == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	hc.NotifyReady()
	logger.Info().Int("cpus", d.engine.CPUs()).Msg("daemon ready")

	g.Go(func() error {
		return d.replay(ctx, cfg.Engine.RingSize, cfg.EngineOptions(cat))
	})

	err = g.Wait()
	logger.Info().Msg("terminating")

	if o.report {
		if werr := d.writeReport(); werr != nil {
			logger.Error().Err(werr).Msg("failed to write report")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (d *daemon) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(d.reg))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.engine.Stats())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// replay runs the scenarios in order and folds their results into the
// daemon total.
func (d *daemon) replay(ctx context.Context, ringSize int, engineOpts []acct.EngineOpt) error {
	runner := replay.NewRunner(
		replay.WithCatalog(d.cat),
		replay.WithEngineOptions(engineOpts...),
		replay.WithRingSize(ringSize),
		replay.WithMetrics(d.m),
		replay.WithLogger(&d.Logger),
	)
	for _, path := range d.scenarios {
		sc, err := replay.Load(path)
		if err != nil {
			return err
		}
		res, err := runner.Run(ctx, sc)
		if err != nil {
			return errors.Wrapf(err, "failed to replay %s", path)
		}
		if err := d.fold(res); err != nil {
			return err
		}
	}

	return nil
}

func (d *daemon) fold(res *replay.Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	residual, err := consumer.Merge(d.total, res.Aggregator.Set())
	if err != nil {
		return errors.Wrapf(err, "failed to aggregate %s", res.Scenario)
	}
	if residual > 0 {
		d.Logger.Warn().Int("residual", residual).Str("scenario", res.Scenario).Msg("aggregate full")
	}
	d.measured += res.Measurements
	d.dropped += res.Dropped

	return nil
}

func (d *daemon) writeReport() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := report.NewReport(
		report.WithReportScenario(strings.Join(d.scenarios, ",")),
		report.WithReportMeasurements(d.measured),
		report.WithReportDropped(d.dropped),
		report.WithReportAggregator(d.total, d.cat),
		report.WithReportStats(d.engine.Stats()),
	)

	f, err := os.Create(d.reportPath)
	if err != nil {
		return errors.Wrap(err, "failed to create report file")
	}
	defer f.Close()

	return r.WriteReport(f)
}

func (o *Options) daemonize() error {
	if common.IsDaemonRunning() {
		fmt.Println("Daemon already running")
		return nil
	}

	args := []string{CmdName}
	for _, sc := range o.scenarios {
		args = append(args, fmt.Sprintf("--scenario=%s", sc))
	}
	args = append(args, fmt.Sprintf("--report=%s", strconv.FormatBool(o.report)))
	args = append(args, fmt.Sprintf("--report-path=%s", o.reportPath))
	args = append(args, fmt.Sprintf("--socket-path=%s", o.socketPath))
	args = append(args, fmt.Sprintf("--%s=%s", options.FlagLogLevel, o.LogLevel))
	if o.metricsListen != "" {
		args = append(args, fmt.Sprintf("--metrics-listen=%s", o.metricsListen))
	}
	if o.ConfigPath != "" {
		args = append(args, fmt.Sprintf("--%s=%s", options.FlagConfig, o.ConfigPath))
	}

	cmd := exec.Command(os.Args[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if settings.LogFile != "" {
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			o.Logger.Error().Err(err).Msg("failed to open log file")
			return err
		}
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		o.Logger.Error().Err(err).Msgf("failed to start %s", settings.CmdName)
		return err
	}

	if err := common.WritePid(cmd.Process.Pid); err != nil {
		o.Logger.Error().Err(err).Msg("failed to write PID file")
		return err
	}

	return nil
}
