package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var base = logrus.New()

// Setup configures the process-wide logger.
func Setup(level, format string) *logrus.Logger {
	return configure(base, os.Stdout, level, format)
}

// New builds a standalone logger, used by tests that want to capture output.
func New(w io.Writer, level, format string) *logrus.Logger {
	return configure(logrus.New(), w, level, format)
}

func configure(l *logrus.Logger, w io.Writer, level, format string) *logrus.Logger {
	l.SetOutput(w)
	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func Base() *logrus.Logger {
	return base
}

// WithEntry stores a request-scoped entry on the context.
func WithEntry(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the request-scoped entry or one derived from the base logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok && entry != nil {
			return entry
		}
	}
	return logrus.NewEntry(base)
}
