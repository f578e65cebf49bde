// Package logrus adapts a logrus entry to obs.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/offsync/obs"
)

var _ obs.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l with an optional component field.
func New(l *logrus.Logger, component string) Logger {
	e := logrus.NewEntry(l)
	if component != "" {
		e = e.WithField("component", component)
	}
	return Logger{E: e}
}

func (l Logger) with(f obs.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	if err, ok := f["err"].(error); ok {
		rest := make(logrus.Fields, len(f))
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return l.E.WithError(err).WithFields(rest)
	}
	return l.E.WithFields(logrus.Fields(f))
}

func (l Logger) Debug(msg string, f obs.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f obs.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f obs.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f obs.Fields) { l.with(f).Error(msg) }
