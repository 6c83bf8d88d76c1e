// Package logging provides structured logging with zap: a global logger,
// request-scoped loggers carried in a context, and provider-scoped fields
// that tag every storage log line with its backend and client.
package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if cfg.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	globalLevel.SetLevel(level)
	config.Level = globalLevel
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}

	globalLogger = logger
	return nil
}

// InitDefault initializes with default production settings.
func InitDefault() {
	logger, _ := zap.NewProduction(zap.AddCallerSkip(1))
	globalLogger = logger
}

// UseLogger replaces the global logger, e.g. with zaptest or zap.NewNop in
// tests.
func UseLogger(l *zap.Logger) {
	globalLogger = l
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime.
func SetLevel(level string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return
	}
	globalLevel.SetLevel(l)
}

// L returns the global logger.
func L() *zap.Logger {
	if globalLogger == nil {
		InitDefault()
	}
	return globalLogger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// WithContext returns a logger from context, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
			return logger
		}
	}
	return L()
}

// WithRequestID adds a request ID to the logger and returns a new context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	logger := WithContext(ctx).With(zap.String("request_id", requestID))
	ctx = context.WithValue(ctx, loggerKey, logger)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// With returns a context whose logger carries fields in addition to those
// already in ctx.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, loggerKey, WithContext(ctx).With(fields...))
}

// Scope tags log lines with the identity of one storage provider. It
// resolves the global logger on each call, so it follows Init and UseLogger.
type Scope struct {
	fields []zap.Field
}

// ForProvider returns the scope of the provider serving client on backend.
func ForProvider(backend, client string, extra ...zap.Field) Scope {
	fields := []zap.Field{zap.String("backend", backend), zap.String("client", client)}
	return Scope{fields: append(fields, extra...)}
}

// Fields returns the scope's fields followed by fields.
func (s Scope) Fields(fields ...zap.Field) []zap.Field {
	return append(append(make([]zap.Field, 0, len(s.fields)+len(fields)), s.fields...), fields...)
}

// Failed logs a failed operation on path. Failures are expected traffic
// (missing paths, conflicts), so they stay at debug level.
func (s Scope) Failed(op, path string, err error) {
	L().Debug("storage operation failed", s.Fields(zap.String("op", op), zap.String("path", path), zap.Error(err))...)
}

// Changed logs a mutation of path.
func (s Scope) Changed(msg, path string, fields ...zap.Field) {
	L().Debug(msg, s.Fields(append([]zap.Field{zap.String("path", path)}, fields...)...)...)
}

// Warn logs a warning in the scope.
func (s Scope) Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, s.Fields(fields...)...)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal logs a fatal message and exits.
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// responseWriter wraps http.ResponseWriter to capture status and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

// RequestFields derives logger fields from an incoming request, e.g. the
// acting user.
type RequestFields func(r *http.Request) []zap.Field

// Middleware returns HTTP middleware that adds request logging. The
// request-scoped logger carries the request id and every field in extra.
// Server errors complete at warn level.
func Middleware(next http.Handler, extra ...RequestFields) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := WithRequestID(r.Context(), requestID)
		var fields []zap.Field
		for _, f := range extra {
			fields = append(fields, f(r)...)
		}
		if len(fields) > 0 {
			ctx = With(ctx, fields...)
		}
		r = r.WithContext(ctx)

		w.Header().Set(RequestIDHeader, requestID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		logger := WithContext(ctx)
		logger.Debug("request started",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)

		next.ServeHTTP(rw, r)

		done := logger.Info
		if rw.status >= http.StatusInternalServerError {
			done = logger.Warn
		}
		done("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int64("size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
