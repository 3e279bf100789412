// Package logging defines the Logger interface that every bwrapbox
// component logs through, and the single zap-backed implementation
// that satisfies it. There is exactly one backend in this domain (the
// supervisor and the re-exec'd limiter child each build their own),
// so the interface wraps a *zap.SugaredLogger directly instead of the
// generic per-level function table a multi-backend dispatcher would
// need.
package logging

import "go.uber.org/zap"

// Logger is the leveled, prefix-tagged logging surface bwrapbox code
// depends on.
type Logger interface {
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type logger struct {
	prefix string
	sugar  *zap.SugaredLogger
}

func newLogger(prefix string, sugar *zap.SugaredLogger) Logger {
	return &logger{prefix: prefix, sugar: sugar}
}

func (l *logger) tag(msg string) string {
	if l.prefix == "" {
		return msg
	}
	return l.prefix + msg
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.sugar.Debugf(l.tag(msg), args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.sugar.Infof(l.tag(msg), args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.sugar.Warnf(l.tag(msg), args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.sugar.Errorf(l.tag(msg), args...)
}
