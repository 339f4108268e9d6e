package pkg

import "go.uber.org/zap"

// Logger is the subset of *zap.Logger the services depend on.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
}

var _ Logger = (*zap.Logger)(nil)
