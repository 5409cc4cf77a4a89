package mlog

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogConfig struct {
	// Level, See also zapcore.ParseLevel.
	Level string `yaml:"level"`

	// File that logger will be writen into.
	// Default is stderr.
	File string `yaml:"file"`

	// Production enables json output.
	Production bool `yaml:"production"`
}

var (
	stderr = zapcore.Lock(os.Stderr)

	l atomic.Pointer[zap.Logger]
	s atomic.Pointer[zap.SugaredLogger]
)

func init() {
	lg := zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), stderr, zap.InfoLevel))
	SetLogger(lg)
}

func NewLogger(lc *LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(lc.Level)
	if err != nil && len(lc.Level) > 0 {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if len(lc.Level) == 0 {
		lvl = zap.InfoLevel
	}

	var out zapcore.WriteSyncer
	if lf := lc.File; len(lf) > 0 {
		f, _, err := zap.Open(lf)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = zapcore.Lock(f)
	} else {
		out = stderr
	}

	if lc.Production {
		return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), out, lvl)), nil
	}
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), out, lvl)), nil
}

// L is a global logger.
func L() *zap.Logger {
	return l.Load()
}

// S is a global sugared logger.
func S() *zap.SugaredLogger {
	return s.Load()
}

// SetLogger replaces the global logger. It is called once by the
// composition root after the config is loaded.
func SetLogger(lg *zap.Logger) {
	l.Store(lg)
	s.Store(lg.Sugar())
}
