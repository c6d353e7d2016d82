package output

import (
	"context"
	"fmt"
	"time"
)

func StatusBar(ctx context.Context, refreshRate time.Duration, printF func()) {
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printF()
		case <-ctx.Done():
			return
		}
	}
}

// Percent returns part over total as a percentage, zero for an empty total.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}

// PrettyPoolStatus formats the progress of a replay and the utilization of
// the accounting and subsystem pools.
func PrettyPoolStatus(progress, acctUtil, subsysUtil, tokens int) string {
	return fmt.Sprintf("\r%-50s %-28s %-30s %-12s",
		fmt.Sprintf("Progress: [%s] %3d%%", ProgressBar(progress, 30), progress),
		fmt.Sprintf("Acct pool: [%s] %3d%%", ProgressBar(acctUtil, 10), acctUtil),
		fmt.Sprintf("Subsys pool: [%s] %3d%%", ProgressBar(subsysUtil, 10), subsysUtil),
		fmt.Sprintf("Tokens: %4d", tokens),
	)
}
