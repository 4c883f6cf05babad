package logger

import (
	"github.com/duckofyork/tinkerpop/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var namedLoggers = map[string]*DriverLogger{}

// DriverLogger is a named logger. Components that log per connection or per request use one of these so that log
// lines can be attributed and carry structured fields.
type DriverLogger struct {
	name   string
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// GetLogger returns the logger with the given name, creating it at the globally configured level if needed.
func GetLogger(name string) (*DriverLogger, error) {
	initLock.Lock()
	defer initLock.Unlock()
	if err := checkName(name); err != nil {
		return nil, err
	}
	if l, ok := namedLoggers[name]; ok {
		return l, nil
	}
	return addNamedLogger(name, logger.Named(name)), nil
}

// GetLoggerWithLevel returns the logger with the given name. The level only applies if the logger does not already
// exist.
func GetLoggerWithLevel(name string, level zapcore.Level) (*DriverLogger, error) {
	initLock.Lock()
	defer initLock.Unlock()
	if err := checkName(name); err != nil {
		return nil, err
	}
	if l, ok := namedLoggers[name]; ok {
		return l, nil
	}
	return addNamedLogger(name, CreateLogger(level, encoding).Named(name)), nil
}

// MustGetLogger is like GetLogger but panics on an invalid name. Intended for package level vars.
func MustGetLogger(name string) *DriverLogger {
	l, err := GetLogger(name)
	if err != nil {
		panic(err)
	}
	return l
}

func checkName(name string) error {
	if !initialised {
		return errors.New("global logger is not initialised")
	}
	if name == "" {
		return errors.New("logger name must not be empty")
	}
	return nil
}

func addNamedLogger(name string, zl *zap.Logger) *DriverLogger {
	l := &DriverLogger{name: name, logger: zl, sugar: zl.Sugar()}
	namedLoggers[name] = l
	return l
}

func (l *DriverLogger) Name() string {
	return l.name
}

// With returns a child logger which adds the fields to every line.
func (l *DriverLogger) With(fields ...zap.Field) *DriverLogger {
	zl := l.logger.With(fields...)
	return &DriverLogger{name: l.name, logger: zl, sugar: zl.Sugar()}
}

func (l *DriverLogger) DebugEnabled() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}

func (l *DriverLogger) Debug(args ...interface{}) {
	l.sugar.Debug(args...)
}

func (l *DriverLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *DriverLogger) Info(args ...interface{}) {
	l.sugar.Info(args...)
}

func (l *DriverLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *DriverLogger) Warn(args ...interface{}) {
	l.sugar.Warn(args...)
}

func (l *DriverLogger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *DriverLogger) Error(args ...interface{}) {
	l.sugar.Error(args...)
}

func (l *DriverLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}
