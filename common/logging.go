// Package common provides the logging infrastructure shared by every WINCORE
// component: a global logrus instance with level-based stream routing, plus
// the ContextLogger builders in logger.go layered on top of it.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes error-level log lines to stderr and everything else
// to stdout, so container log collectors can treat the two streams
// differently without parsing structured fields themselves.
type OutputSplitter struct{}

// Write implements io.Writer. It inspects the formatted line logrus hands it
// for the literal "level=error" marker; this only works with logrus's
// TextFormatter. JSONFormatter lines carry "level":"error" instead and are
// routed to stdout like every other level.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logrus instance. Components obtain a
// *ContextLogger scoped to their own fields via NewContextLogger(Logger, ...)
// rather than writing to this directly.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
