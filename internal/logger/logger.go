// Package logger provides structured logging for the survey store service
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "surveystore"

// Logger wraps zerolog with component-scoped helpers
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // trace, debug, info, warn, error
	Pretty     bool   // console output for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger. Unknown levels fall back to info.
func NewLogger(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("service", serviceName)
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}

	return &Logger{zlog: ctx.Logger()}
}

// Zerolog returns the underlying zerolog logger
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// WriterLogger returns a logger for the compensating writer
func (l *Logger) WriterLogger() *Logger { return l.component("writer") }

// StoreLogger returns a logger for a storage backend
func (l *Logger) StoreLogger(driver string) *Logger {
	return &Logger{zlog: l.zlog.With().
		Str("component", "storage").
		Str("driver", driver).
		Logger()}
}

// HTTPLogger returns a logger for the REST API
func (l *Logger) HTTPLogger() *Logger { return l.component("http") }

// GrpcLogger returns a logger for gRPC operations
func (l *Logger) GrpcLogger(method string) *Logger {
	return &Logger{zlog: l.zlog.With().
		Str("component", "grpc").
		Str("method", method).
		Logger()}
}

// LogHTTPRequest logs a completed API request
func (l *Logger) LogHTTPRequest(method, route string, status int, duration time.Duration) {
	event := l.zlog.Info()
	switch {
	case status >= 500:
		event = l.zlog.Error()
	case status >= 400:
		event = l.zlog.Warn()
	}
	event.
		Str("method", method).
		Str("route", route).
		Int("status", status).
		Dur("duration_ms", duration).
		Msg("HTTP request completed")
}

// LogGrpcRequest logs a gRPC request with structured fields
func (l *Logger) LogGrpcRequest(method string, duration time.Duration, err error) {
	if err != nil {
		l.zlog.Error().
			Str("method", method).
			Dur("duration_ms", duration).
			Err(err).
			Msg("gRPC request failed")
		return
	}
	l.zlog.Debug().
		Str("method", method).
		Dur("duration_ms", duration).
		Msg("gRPC request completed")
}

// LogServerStart logs server startup
func (l *Logger) LogServerStart(httpPort, grpcPort int, driver string) {
	l.zlog.Info().
		Str("event", "server_start").
		Int("http_port", httpPort).
		Int("grpc_port", grpcPort).
		Str("storage", driver).
		Msg("Survey store starting")
}

// LogServerShutdown logs server shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "server_shutdown").
		Msg("Survey store shutting down")
}

var globalLogger *Logger

// InitGlobalLogger initializes the global logger and zerolog's package logger
func InitGlobalLogger(cfg Config) *Logger {
	globalLogger = NewLogger(cfg)
	log.Logger = globalLogger.zlog
	return globalLogger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}
