// Package logging initializes the application log.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

type prefixFormatter struct {
	prefix    string
	formatter logrus.Formatter
}

// Init options for logging.
type Options struct {

	// Prefix for application log entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil, os.Stderr is
	// used.
	ApplicationLogOutput io.Writer

	// ApplicationLogJSONEnabled switches the application log to JSON
	// format.
	ApplicationLogJSONEnabled bool

	// Level of the application log, one of the logrus level names.
	// Invalid or empty values select info.
	ApplicationLogLevel string
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

// Initializes logging.
func Init(o Options) {
	if o.ApplicationLogJSONEnabled {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if o.ApplicationLogPrefix != "" {
		logrus.SetFormatter(&prefixFormatter{
			o.ApplicationLogPrefix, logrus.StandardLogger().Formatter})
	}

	if o.ApplicationLogOutput != nil {
		logrus.SetOutput(o.ApplicationLogOutput)
	}

	logrus.SetLevel(level(o.ApplicationLogLevel))
}

func level(name string) logrus.Level {
	if name == "" {
		return logrus.InfoLevel
	}

	l, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.Errorf("invalid log level %q, falling back to info", name)
		return logrus.InfoLevel
	}

	return l
}
