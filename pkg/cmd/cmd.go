package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/cmd/catalog"
	"github.com/maxgio92/kacct/pkg/cmd/options"
	"github.com/maxgio92/kacct/pkg/cmd/replay"
	"github.com/maxgio92/kacct/pkg/cmd/run"
	"github.com/maxgio92/kacct/pkg/cmd/status"
	"github.com/maxgio92/kacct/pkg/cmd/stop"
	"github.com/maxgio92/kacct/pkg/cmd/wait"
)

const logLevelInfo = "info"

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   settings.CmdName,
		Short: fmt.Sprintf("%s is a per-subsystem kernel resource accounting engine", settings.CmdName),
		Long: fmt.Sprintf(`
%s charges the CPU cycles and time a process spends in each kernel subsystem
to caller-chosen tokens, and hands the measurements back through memory
shared with the process.
`, settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	cmd.PersistentFlags().StringVar(&o.LogLevel, options.FlagLogLevel, logLevelInfo, "Sets the log level (trace, debug, info, warn, error, fatal, panic)")
	cmd.PersistentFlags().StringVarP(&o.ConfigPath, options.FlagConfig, "c", "", "Path to the TOML configuration file")

	cmd.AddCommand(replay.NewCommand(&replay.Options{Options: o.Options}))
	cmd.AddCommand(run.NewCommand(&run.Options{Options: o.Options}))
	cmd.AddCommand(catalog.NewCommand(&catalog.Options{Options: o.Options}))
	cmd.AddCommand(status.NewCommand(&status.Options{Options: o.Options}))
	cmd.AddCommand(stop.NewCommand(&stop.Options{Options: o.Options}))
	cmd.AddCommand(wait.NewCommand(&wait.Options{Options: o.Options}))

	return cmd
}

// Execute builds the root command and runs it until it returns or a
// termination signal arrives.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	opts := NewOptions(
		WithContext(ctx),
		WithLogger(logger),
	)

	if err := NewCommand(opts).Execute(); err != nil {
		os.Exit(1)
	}
}
