// Package xlog centralizes the structured-logging entry point used by
// dos3, prodos and filesystem. There is no CLI in this module,
// so there's no flag to wire a log level to; callers configure the level
// once (typically from a types.Globals.Debug value) via SetLevel.
package xlog

import "github.com/sirupsen/logrus"

// Log is the package-level logger. It defaults to warn level with no
// debug/trace chatter, matching the teacher's "only print with -debug"
// behavior.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// SetLevel maps the teacher's integer debug level (0 = none, 1 = normal,
// 2+ = verbose) onto logrus levels.
func SetLevel(debug int) {
	switch {
	case debug <= 0:
		Log.SetLevel(logrus.WarnLevel)
	case debug == 1:
		Log.SetLevel(logrus.InfoLevel)
	default:
		Log.SetLevel(logrus.DebugLevel)
	}
}

// WithFields is a small convenience wrapper so call sites don't need to
// import logrus directly just to attach structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Log.WithFields(logrus.Fields(fields))
}
