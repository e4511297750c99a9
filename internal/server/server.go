// Package server multiplexes the two protocol listeners over a shared
// session registry. Each accepted connection gets its own engine instance
// and goroutine; the engines stay transport-agnostic behind the Engine
// capability.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bridgemail/bridgemail/internal/metrics"
)

// Protocol tags a listener and its sessions.
type Protocol string

const (
	ProtocolSMTP Protocol = "smtp"
	ProtocolPOP3 Protocol = "pop3"
)

// Engine is the per-session capability both protocol state machines expose:
// a one-shot greeting, then chunk-in/reply-out processing. Process must not
// block on anything but store calls.
type Engine interface {
	Greeting() []byte
	Process(ctx context.Context, chunk []byte) (out []byte, terminate bool)
}

// EngineFactory constructs a fresh engine for one session, bound to the
// session's logger.
type EngineFactory func(logger *slog.Logger) Engine

// Config holds everything the server needs to run both listeners.
type Config struct {
	SMTPAddress string
	POP3Address string

	SMTPIdleTimeout time.Duration
	POP3IdleTimeout time.Duration

	SMTPEngine EngineFactory
	POP3Engine EngineFactory

	LogWire   bool
	Logger    *slog.Logger
	Collector metrics.Collector
}

// Server coordinates the SMTP and POP3 listeners over a shared registry.
type Server struct {
	logger    *slog.Logger
	registry  *Registry
	listeners []*Listener

	mu    sync.Mutex
	bound bool
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.SMTPEngine == nil || cfg.POP3Engine == nil {
		return nil, errors.New("both engine factories are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:   logger,
		registry: NewRegistry(),
	}

	for _, lc := range []ListenerConfig{
		{
			Protocol:    ProtocolSMTP,
			Address:     cfg.SMTPAddress,
			Factory:     cfg.SMTPEngine,
			IdleTimeout: cfg.SMTPIdleTimeout,
		},
		{
			Protocol:    ProtocolPOP3,
			Address:     cfg.POP3Address,
			Factory:     cfg.POP3Engine,
			IdleTimeout: cfg.POP3IdleTimeout,
		},
	} {
		lc.Registry = s.registry
		lc.Collector = cfg.Collector
		lc.LogWire = cfg.LogWire
		lc.Logger = logger
		s.listeners = append(s.listeners, NewListener(lc))
	}

	return s, nil
}

// Listen binds both listening sockets. Any bind failure closes whatever was
// already bound and is returned as a startup failure.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		if err := l.Listen(); err != nil {
			for _, bound := range s.listeners {
				_ = bound.Close()
			}
			return fmt.Errorf("listener %s (%s): %w", l.Address(), l.Protocol(), err)
		}
	}
	s.bound = true
	return nil
}

// Addr returns the bound address for one protocol, or nil before Listen.
// Useful when binding port 0.
func (s *Server) Addr(p Protocol) net.Addr {
	for _, l := range s.listeners {
		if l.Protocol() == p {
			return l.Addr()
		}
	}
	return nil
}

// Registry exposes the session registry (metrics, tests).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Run serves both listeners until the context is cancelled, then stops
// accepting, abruptly closes every active session, and waits for all pumps
// to finish. Listen is called first if it hasn't been.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()
	if !bound {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("starting server",
		slog.Int("listener_count", len(s.listeners)),
	)

	var wg sync.WaitGroup
	errChan := make(chan error, len(s.listeners))

	for _, l := range s.listeners {
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			if err := listener.Serve(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
			}
		}(l)
	}

	// Wait for context cancellation
	<-ctx.Done()

	s.logger.Info("server shutting down")

	// Stop accepting, then drop every active session without a farewell.
	s.Shutdown()
	wg.Wait()

	// Check for any errors
	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Shutdown closes all listeners and abruptly closes all active sessions.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
	}
	if err := s.registry.CloseAll(); err != nil {
		s.logger.Debug("error closing sessions", slog.String("error", err.Error()))
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
