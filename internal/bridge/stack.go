// Package bridge wires the store, the protocol engines, the listeners, and
// the metrics endpoint into one running mail bridge.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/bridgemail/bridgemail/internal/config"
	"github.com/bridgemail/bridgemail/internal/metrics"
	"github.com/bridgemail/bridgemail/internal/pop3"
	"github.com/bridgemail/bridgemail/internal/server"
	"github.com/bridgemail/bridgemail/internal/smtp"
	"github.com/bridgemail/bridgemail/internal/store"
)

// Stack owns all components of a running bridge instance and manages their
// lifecycle.
type Stack struct {
	Server *server.Server

	store         *store.Store
	metricsServer metrics.Server
	logger        *slog.Logger
}

// StackConfig groups config needed to build a Stack.
type StackConfig struct {
	Config    config.Config
	StorePath string
	Logger    *slog.Logger // nil → slog.Default()
}

// NewStack opens the store and wires up all components. The store file must
// already exist; provisioning is the admin tool's job.
func NewStack(ctx context.Context, cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", "path", cfg.StorePath)

	collector, metricsServer := metrics.New(metrics.Config{
		Enabled: cfg.Config.Metrics.Enabled,
		Address: cfg.Config.Metrics.Address,
		Path:    cfg.Config.Metrics.Path,
	})
	if cfg.Config.Metrics.Enabled {
		logger.Info("metrics enabled",
			"address", cfg.Config.Metrics.Address,
			"path", cfg.Config.Metrics.Path)
	}

	hostname := cfg.Config.EffectiveHostname()
	srv, err := server.New(server.Config{
		SMTPAddress:     net.JoinHostPort(cfg.Config.Bind, strconv.Itoa(cfg.Config.SMTP.Port)),
		POP3Address:     net.JoinHostPort(cfg.Config.Bind, strconv.Itoa(cfg.Config.POP3.Port)),
		SMTPIdleTimeout: cfg.Config.SMTP.IdleTimeoutDuration(5 * time.Minute),
		POP3IdleTimeout: cfg.Config.POP3.IdleTimeoutDuration(10 * time.Minute),
		SMTPEngine: func(logger *slog.Logger) server.Engine {
			return smtp.NewEngine(st, hostname, collector, logger)
		},
		POP3Engine: func(logger *slog.Logger) server.Engine {
			return pop3.NewEngine(st, hostname, collector, logger)
		},
		LogWire:   cfg.Config.LogLevel == "debug",
		Logger:    logger,
		Collector: collector,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Stack{
		Server:        srv,
		store:         st,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// Listen binds both protocol sockets. Called separately from Run so startup
// failures surface before the serve loop starts.
func (s *Stack) Listen() error {
	return s.Server.Listen()
}

// Run serves until the context is cancelled, then tears everything down.
func (s *Stack) Run(ctx context.Context) error {
	go func() {
		if err := s.metricsServer.Start(ctx); err != nil {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()

	err := s.Server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := s.metricsServer.Shutdown(shutdownCtx); serr != nil {
		s.logger.Error("metrics shutdown error", "error", serr.Error())
	}

	return errors.Join(err, s.store.Close())
}
