package common

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/maxgio92/kacct/internal/settings"
)

// ReadPid returns the pid stored in the daemon PID file.
func ReadPid() (int, error) {
	pidData, err := os.ReadFile(settings.PidFile)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read PID file")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil {
		return 0, errors.Wrap(err, "invalid PID file")
	}

	return pid, nil
}

// WritePid stores pid in the daemon PID file.
func WritePid(pid int) error {
	return os.WriteFile(settings.PidFile, []byte(strconv.Itoa(pid)), 0644)
}

func IsDaemonRunning() bool {
	pid, err := ReadPid()
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks the process exists.
	return process.Signal(syscall.Signal(0)) == nil
}
