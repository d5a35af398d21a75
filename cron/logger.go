package cron

import (
	"github.com/dailyyoga/mongoconfigs/logger"
	"go.uber.org/zap"
)

// cronLogger routes the scheduler's own logs to zap
type cronLogger struct {
	log logger.Logger
}

// Info implements cron.Logger; the scheduler's routine chatter goes to debug
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

// Error implements cron.Logger
func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []any) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		out = append(out, zap.Any(key, keysAndValues[i+1]))
	}
	return out
}
