package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/cmd/common"
	"github.com/maxgio92/kacct/pkg/cmd/options"
)

type Options struct {
	*options.Options
}

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "status",
		Short:             fmt.Sprintf("Check the %s daemon status", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	if !common.IsDaemonRunning() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not running\n", settings.CmdName)
		return
	}
	pid, _ := common.ReadPid()
	fmt.Fprintf(cmd.OutOrStdout(), "%s is running (PID %d)\n", settings.CmdName, pid)
}
