package algolab

import "github.com/sirupsen/logrus"

// Logger is the minimal interface this package logs through. It is
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
