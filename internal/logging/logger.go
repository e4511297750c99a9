// Package logging builds the slog loggers used across the mail bridge and
// the wire tracers that sit behind the debug log level.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// connectionCounter generates unique connection ids for log correlation.
var connectionCounter atomic.Uint64

// NewLogger creates a text logger on stderr at the given level. Unknown
// levels fall back to info.
func NewLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
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

// WithListener returns a logger carrying listener-scoped attributes.
func WithListener(logger *slog.Logger, protocol, address string) *slog.Logger {
	return logger.With(
		slog.String("protocol", protocol),
		slog.String("listener", address),
	)
}

// WithConnection returns a logger carrying session-scoped attributes,
// including a process-unique connection id.
func WithConnection(logger *slog.Logger, protocol, remoteAddr string) *slog.Logger {
	return logger.With(
		slog.String("protocol", protocol),
		slog.Uint64("conn_id", connectionCounter.Add(1)),
		slog.String("remote_addr", remoteAddr),
	)
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// TraceWriter wraps an io.Writer and logs every chunk written at debug
// level. Used to capture full protocol transcripts.
type TraceWriter struct {
	w         io.Writer
	logger    *slog.Logger
	direction string
}

// NewTraceWriter creates a writer that logs all data it passes through.
func NewTraceWriter(w io.Writer, logger *slog.Logger, direction string) *TraceWriter {
	return &TraceWriter{w: w, logger: logger, direction: direction}
}

func (tw *TraceWriter) Write(p []byte) (n int, err error) {
	n, err = tw.w.Write(p)
	if n > 0 {
		tw.logger.Debug("wire",
			slog.String("direction", tw.direction),
			slog.String("data", string(p[:n])),
		)
	}
	return n, err
}

// TraceReader wraps an io.Reader and logs every chunk read at debug level.
type TraceReader struct {
	r         io.Reader
	logger    *slog.Logger
	direction string
}

// NewTraceReader creates a reader that logs all data it passes through.
func NewTraceReader(r io.Reader, logger *slog.Logger, direction string) *TraceReader {
	return &TraceReader{r: r, logger: logger, direction: direction}
}

func (tr *TraceReader) Read(p []byte) (n int, err error) {
	n, err = tr.r.Read(p)
	if n > 0 {
		tr.logger.Debug("wire",
			slog.String("direction", tr.direction),
			slog.String("data", string(p[:n])),
		)
	}
	return n, err
}
