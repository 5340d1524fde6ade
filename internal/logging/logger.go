// Package logging adapts zap to the call shape the rest of this codebase
// uses: a message plus variadic key/value pairs.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the structured logging interface every component depends on.
type Logger interface {
	Debugw(msg string, keyValuePairs ...any)
	Infow(msg string, keyValuePairs ...any)
	Warnw(msg string, keyValuePairs ...any)
	Errorw(msg string, keyValuePairs ...any)
	With(keyValuePairs ...any) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a production zap logger wrapped in the Logger interface.
// debug enables debug-level output; callers pass cfg.EnableDebugLogging.
func New(debug bool) (Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything, for use in tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debugw(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(kv...)}
}
