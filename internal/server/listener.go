package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bridgemail/bridgemail/internal/logging"
	"github.com/bridgemail/bridgemail/internal/metrics"
)

// readBufferSize is the per-read chunk size, aligned with a typical MTU
// payload.
const readBufferSize = 1460

// Listener accepts connections for one protocol and pumps each one through
// a freshly constructed engine.
type Listener struct {
	protocol  Protocol
	address   string
	factory   EngineFactory
	registry  *Registry
	collector metrics.Collector
	connCfg   ConnectionConfig
	logger    *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// ListenerConfig holds configuration for creating a new Listener.
type ListenerConfig struct {
	Protocol    Protocol
	Address     string
	Factory     EngineFactory
	Registry    *Registry
	Collector   metrics.Collector
	IdleTimeout time.Duration
	LogWire     bool
	Logger      *slog.Logger
}

// NewListener creates a new Listener with the given configuration.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	return &Listener{
		protocol:  cfg.Protocol,
		address:   cfg.Address,
		factory:   cfg.Factory,
		registry:  cfg.Registry,
		collector: collector,
		connCfg: ConnectionConfig{
			Protocol:    cfg.Protocol,
			IdleTimeout: cfg.IdleTimeout,
			LogWire:     cfg.LogWire,
			Logger:      logger,
		},
		logger: logging.WithListener(logger, string(cfg.Protocol), cfg.Address),
	}
}

// Listen binds the listening socket. A bind failure is a startup failure,
// reported before any serving begins.
func (l *Listener) Listen() error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.logger.Info("listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until the listener is closed. It returns after
// the accept loop exits and every session pump has finished.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()

			if closed {
				break
			}

			// Check if it's a temporary error
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				l.logger.Warn("temporary accept error",
					slog.String("error", err.Error()),
				)
				time.Sleep(5 * time.Millisecond)
				continue
			}

			l.logger.Error("accept error",
				slog.String("error", err.Error()),
			)
			break
		}

		// Pump the connection in its own goroutine
		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}

	l.wg.Wait()
	l.logger.Info("listener stopped")
	return ctx.Err()
}

// handleConnection registers the session, sends the greeting, and pumps
// transport chunks through the engine until it terminates or the transport
// drops.
func (l *Listener) handleConnection(ctx context.Context, netConn net.Conn) {
	defer l.wg.Done()

	conn := NewConnection(netConn, l.connCfg)
	conn.Logger().Info("connection accepted")

	l.collector.ConnectionOpened(string(l.protocol))
	defer l.collector.ConnectionClosed(string(l.protocol))

	sess := l.registry.Add(l.protocol, conn)
	defer l.registry.Remove(sess)

	ctx = logging.NewContext(ctx, conn.Logger())
	engine := l.factory(conn.Logger())

	defer func() {
		_ = conn.Close()
		conn.Logger().Info("connection closed")
	}()

	if _, err := conn.Write(engine.Greeting()); err != nil {
		conn.Logger().Debug("greeting write failed", slog.String("error", err.Error()))
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			out, terminate := engine.Process(ctx, buf[:n])
			if len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					conn.Logger().Debug("write failed", slog.String("error", werr.Error()))
					return
				}
			}
			if terminate {
				return
			}
		}
		if err != nil {
			// EOF, idle-timeout expiry, or abrupt shutdown via CloseAll.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				conn.Logger().Info("closing idle connection")
			}
			return
		}
	}
}

// Close stops the listener from accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// Address returns the listener's configured address.
func (l *Listener) Address() string {
	return l.address
}

// Protocol returns the listener's protocol kind.
func (l *Listener) Protocol() Protocol {
	return l.protocol
}
