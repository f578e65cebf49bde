// Package zap adapts a *zap.Logger to obs.Logger.
package zap

import (
	"slices"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/offsync/obs"
)

var _ obs.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New wraps l; a nil l logs nothing.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l}
}

func (z Logger) Debug(msg string, f obs.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f obs.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f obs.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f obs.Fields) { z.L.Error(msg, zf(f)...) }

// zf orders fields by key so output is stable across runs.
func zf(f obs.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
