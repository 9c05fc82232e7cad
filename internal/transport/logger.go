package transport

import (
	"github.com/hashicorp/go-retryablehttp"

	"github.com/eshaffer321/ig-go/internal/types"
)

// NewRetryLogger adapts a Logger to retryablehttp. A nil logger yields nil,
// which keeps retryablehttp quiet instead of falling back to stderr.
func NewRetryLogger(logger types.Logger) retryablehttp.LeveledLogger {
	if logger == nil {
		return nil
	}
	return &retryLogger{logger: logger}
}

// retryLogger adapts our logger to retryablehttp
type retryLogger struct {
	logger types.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}
