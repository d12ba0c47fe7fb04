package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type requestIDKey struct{}

// Logger provides structured logging for the watcher and its features
type Logger struct {
	*slog.Logger
	features *featureLoggers
}

type featureLoggers struct {
	mu      sync.Mutex
	loggers map[string]*slog.Logger
}

// NewLogger creates a text logger at info level on stdout
func NewLogger() *Logger {
	return NewLoggerWithConfig(LogConfig{Level: "info", Format: "text"}, os.Stdout)
}

// NewLoggerWithConfig creates a logger from the log configuration
func NewLoggerWithConfig(cfg LogConfig, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger:   slog.New(handler),
		features: &featureLoggers{loggers: make(map[string]*slog.Logger)},
	}
}

// NewDiscardLogger returns a logger that drops everything, for tests.
func NewDiscardLogger() *Logger {
	return NewLoggerWithConfig(LogConfig{Level: "error", Format: "text"}, io.Discard)
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForFeature returns a logger specific to a feature
func (l *Logger) ForFeature(featureName string) *Logger {
	l.features.mu.Lock()
	defer l.features.mu.Unlock()

	featureLogger, exists := l.features.loggers[featureName]
	if !exists {
		featureLogger = l.Logger.With("feature", featureName)
		l.features.loggers[featureName] = featureLogger
	}

	return &Logger{
		Logger:   featureLogger,
		features: l.features,
	}
}

// ForTopic returns a logger tagged with a topic ID
func (l *Logger) ForTopic(topicID string) *Logger {
	return &Logger{
		Logger:   l.Logger.With("topic_id", topicID),
		features: l.features,
	}
}

// ContextWithRequestID stores a request ID for WithContext
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// WithContext returns a logger with request context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return &Logger{
			Logger:   l.Logger.With("request_id", requestID),
			features: l.features,
		}
	}

	return l
}

// LogFeatureEvent logs a feature-specific event
func (l *Logger) LogFeatureEvent(featureName, event string, attrs ...any) {
	featureLogger := l.ForFeature(featureName)
	featureLogger.Info("Feature event", append([]any{"event", event}, attrs...)...)
}

// LogFeatureError logs a feature-specific error
func (l *Logger) LogFeatureError(featureName, message string, err error, attrs ...any) {
	featureLogger := l.ForFeature(featureName)
	allAttrs := append([]any{"error", err}, attrs...)
	featureLogger.Error(message, allAttrs...)
}
