package server

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bridgemail/bridgemail/internal/logging"
)

// Connection wraps a net.Conn with idle-timeout management and optional
// wire tracing. Reads arm a deadline covering the protocol's idle timeout,
// so a silent client is disconnected by the next Read failing.
type Connection struct {
	conn        net.Conn
	reader      io.Reader
	writer      io.Writer
	logger      *slog.Logger
	idleTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// ConnectionConfig holds configuration for a new connection.
type ConnectionConfig struct {
	Protocol    Protocol
	IdleTimeout time.Duration
	LogWire     bool
	Logger      *slog.Logger
}

// NewConnection creates a new Connection wrapper.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connLogger := logging.WithConnection(logger, string(cfg.Protocol), conn.RemoteAddr().String())

	c := &Connection{
		conn:        conn,
		logger:      connLogger,
		idleTimeout: cfg.IdleTimeout,
	}

	var r io.Reader = conn
	var w io.Writer = conn
	if cfg.LogWire {
		r = logging.NewTraceReader(conn, connLogger, "recv")
		w = logging.NewTraceWriter(conn, connLogger, "send")
	}
	c.reader = r
	c.writer = w

	return c
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads a chunk from the transport. When an idle timeout is configured
// the read is armed with a deadline, so an idle session surfaces as a
// timeout error here.
func (c *Connection) Read(p []byte) (int, error) {
	if c.idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return 0, err
		}
	}
	return c.reader.Read(p)
}

// Write writes reply bytes to the transport.
func (c *Connection) Write(p []byte) (int, error) {
	return c.writer.Write(p)
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Debug("connection closed")
	return c.conn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
