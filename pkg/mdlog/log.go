// Package mdlog is the structured-logging surface shared by every
// component of the metadata engine. It wraps logrus the way the rest of
// the ecosystem does: one process-wide entry factory, level gating, and
// a formatter chosen for the output's destination (TTY vs syslog/file).
package mdlog

import (
	"io"
	"os"

	easy "github.com/t-tomalak/logrus-easy-formatter"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Logger is the interface every package depends on instead of *logrus.Entry
// directly, so tests can substitute a no-op or buffering implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

type entry struct {
	*logrus.Entry
}

func (e *entry) WithField(key string, value interface{}) Logger {
	return &entry{e.Entry.WithField(key, value)}
}

// New builds a Logger writing to w. When w is a terminal, output is
// colorized and line-oriented for a human operator (the monitor running
// in foreground); otherwise a plain, syslog-friendly line format is used.
func New(w io.Writer, debug bool) Logger {
	l := logrus.New()
	l.SetOutput(w)

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		l.SetOutput(colorable.NewColorable(f))
		l.SetFormatter(&easy.Formatter{
			TimestampFormat: "15:04:05",
			LogFormat:       "[%lvl%] %time% %msg%\n",
		})
	} else {
		l.SetFormatter(&easy.Formatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			LogFormat:       "%time% %lvl% %msg%\n",
		})
	}

	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	return &entry{logrus.NewEntry(l)}
}

// Discard is a Logger that drops everything; useful for tests that don't
// care about log output but still need to satisfy the Logger parameter.
var Discard Logger = New(io.Discard, false)
