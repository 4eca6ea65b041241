package cmn

import "github.com/golang/glog"

// FlushLogs flushes buffered glog output. Callers invoke this on every exit
// path of cmd/citransfer so a crash or a clean shutdown never drops the
// last few log lines.
func FlushLogs() { glog.Flush() }
