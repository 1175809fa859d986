package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// DefaultLogger implements mimir.Logger on top of zerolog for
// zero-allocation structured logging.
type DefaultLogger struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// New creates a DefaultLogger writing to w with timestamps. The log level
// is read from MIMIR_LOG_LEVEL (debug, info, warn, error; default info)
// and MIMIR_LOG_SAMPLE_N enables 1-in-N sampling of Warn/Error output.
func New(w io.Writer) *DefaultLogger {
	level := zerolog.InfoLevel
	if v := os.Getenv("MIMIR_LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()

	var samp zerolog.Sampler
	if v := os.Getenv("MIMIR_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(n)
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &DefaultLogger{logger: l, sampler: samp, sampled: sampled}
}

// NewDefault creates a DefaultLogger on stderr.
func NewDefault() *DefaultLogger {
	return New(os.Stderr)
}

func (l *DefaultLogger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

// Debug logs a debug-level message with structured key/value pairs.
func (l *DefaultLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

// Info logs an info-level message with structured key/value pairs.
func (l *DefaultLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning-level message with structured key/value pairs.
func (l *DefaultLogger) Warn(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Warn(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error-level message with structured key/value pairs.
func (l *DefaultLogger) Error(msg string, keysAndValues ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Error(), msg, keysAndValues...)
		return
	}
	l.log(l.logger.Error(), msg, keysAndValues...)
}

// Nop is a logger that discards everything. Useful in tests.
type Nop struct{}

func (Nop) Debug(msg string, keysAndValues ...interface{}) {}
func (Nop) Info(msg string, keysAndValues ...interface{})  {}
func (Nop) Warn(msg string, keysAndValues ...interface{})  {}
func (Nop) Error(msg string, keysAndValues ...interface{}) {}
