package stop

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxgio92/kacct/internal/settings"
	"github.com/maxgio92/kacct/pkg/cmd/common"
	"github.com/maxgio92/kacct/pkg/cmd/options"
)

type Options struct {
	grace time.Duration

	*options.Options
}

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "stop",
		Short:             fmt.Sprintf("Stop the %s daemon", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run:               o.Run,
	}
	cmd.Flags().DurationVar(&o.grace, "grace", 5*time.Second, "Time to wait for the daemon to exit before killing it")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()

	pid, err := common.ReadPid()
	if err != nil {
		fmt.Fprintf(out, "%s not running or PID file not found\n", settings.CmdName)
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(out, "Process not found")
		return
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(out, "Failed to stop daemon: %v\n", err)
		os.Remove(settings.PidFile)
		return
	}

	// The daemon writes its report on the way out.
	deadline := time.Now().Add(o.grace)
	for time.Now().Before(deadline) {
		if !common.IsDaemonRunning() {
			fmt.Fprintf(out, "%s stopped (PID %d)\n", settings.CmdName, pid)
			os.Remove(settings.PidFile)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	process.Kill()
	os.Remove(settings.PidFile)
	fmt.Fprintf(out, "%s force killed (PID %d)\n", settings.CmdName, pid)
}
