package settings

import "fmt"

const CmdName = "kacct"

var (
	PidFile        = fmt.Sprintf("/tmp/%s.pid", CmdName)
	LogFile        = fmt.Sprintf("/tmp/%s.log", CmdName)
	SocketPath     = fmt.Sprintf("/tmp/%s.sock", CmdName)
	ReportFileName = fmt.Sprintf("%s-report.json", CmdName)
)

const DefaultMetricsAddr = ":9193"
