package httpsshim

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging abstraction used by Conn, Transport and Client.
// Any logrus.FieldLogger satisfies it.
type Logger interface {
	Errorf(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

// NewLogger creates a Logger that writes text lines to output.
func NewLogger(output io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(output)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000000",
	})
	return NewLogrusLogger(l)
}

// NewLogrusLogger adapts an existing logrus logger, tagging every line
// with the component name.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return l.WithField("component", "httpsshim")
}

func createLogger() Logger {
	return NewLogger(os.Stderr)
}

var _ Logger = (*disableLogger)(nil)

type disableLogger struct{}

func (l *disableLogger) Errorf(format string, v ...interface{}) {}
func (l *disableLogger) Warnf(format string, v ...interface{})  {}
func (l *disableLogger) Debugf(format string, v ...interface{}) {}
