// Package logger configures the process-wide logrus logger.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is shared by every component.
var Logger = logrus.New()

// Init sets the level and output format. Unknown levels fall back to info.
func Init(level string, json bool) {
	if json {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	Logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		Logger.WithField("level", level).Warn("couldn't parse log level, using info")
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// WithExecution returns an entry tagged with the execution id.
func WithExecution(executionID string) *logrus.Entry {
	return Logger.WithField("execution_id", executionID)
}
