package logging

import (
	"slices"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FromLogr returns a zap logger that forwards every entry to sink, so the
// client can log into applications built on logr.
//
// Debug entries map to V(1), Info and Warn to V(0), Error and above to
// sink.Error. Zap logger names become logr names.
func FromLogr(sink logr.Logger) *zap.Logger {
	return zap.New(&logrCore{sink: sink, level: zapcore.DebugLevel})
}

type logrCore struct {
	sink   logr.Logger
	level  zapcore.LevelEnabler
	fields []zapcore.Field
}

func (c *logrCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

func (c *logrCore) With(fields []zapcore.Field) zapcore.Core {
	return &logrCore{
		sink:   c.sink,
		level:  c.level,
		fields: append(slices.Clip(c.fields), fields...),
	}
}

func (c *logrCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *logrCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	kv := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, enc.Fields[k])
	}

	l := c.sink
	if e.LoggerName != "" {
		l = l.WithName(e.LoggerName)
	}
	switch {
	case e.Level >= zapcore.ErrorLevel:
		l.Error(nil, e.Message, kv...)
	case e.Level == zapcore.DebugLevel:
		l.V(1).Info(e.Message, kv...)
	default:
		l.Info(e.Message, kv...)
	}
	return nil
}

func (c *logrCore) Sync() error {
	return nil
}
