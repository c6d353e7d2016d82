package wait

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/cmd/options"
	"github.com/maxgio92/kacct/pkg/healthcheck"
)

const CmdName = "wait"

type Options struct {
	socketPath string
	timeout    time.Duration
	interval   time.Duration

	*options.Options
}

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Wait for the %s daemon to be ready", settings.CmdName),
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.SocketPath, fmt.Sprintf("Path to the %s socket file", settings.CmdName))
	cmd.Flags().DurationVar(&o.timeout, "timeout", time.Second*120, "Timeout")
	cmd.Flags().DurationVar(&o.interval, "interval", 500*time.Millisecond, "Polling interval")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if _, err := o.Init(cmd); err != nil {
		return err
	}
	logger := o.Logger.With().Str("component", CmdName).Logger()

	logger.Info().Msg("waiting for the daemon to be ready")
	if err := healthcheck.WaitReady(o.Ctx, o.socketPath, o.timeout, o.interval); err != nil {
		return errors.Wrap(err, "daemon not ready")
	}
	logger.Info().Msg("daemon is ready")

	return nil
}
