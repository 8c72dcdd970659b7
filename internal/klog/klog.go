// Package klog provides the structured loggers the kernel's subsystems log
// through. Each subsystem gets its own *logrus.Entry tagged with a
// "subsystem" field so a fatal halt can be grepped straight out of the log.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetVerbose raises the base logger to debug level; spos-sim wires this to
// -v/--verbose.
func SetVerbose(verbose bool) {
	if verbose {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// For returns the logger for a named subsystem (e.g. "scheduler", "heap",
// "critical", "boot").
func For(subsystem string) *logrus.Entry {
	return base.WithField("subsystem", subsystem)
}
