package stream

import "github.com/sirupsen/logrus"

// Logger wraps the logging methods used by this package. It is
// satisfied by *logrus.Logger out of the box.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

var _ Logger = (*logrus.Logger)(nil)

// DefaultLogger returns the process-wide logrus standard logger.
func DefaultLogger() Logger {
	return logrus.StandardLogger()
}

// ErrorOnlyLogger returns a logger that only logs errors.
func ErrorOnlyLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}
