// Command bridgemail serves SMTP and POP3 for local mailboxes backed by a
// shared SQLite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bridgemail/bridgemail/internal/bridge"
	"github.com/bridgemail/bridgemail/internal/config"
	"github.com/bridgemail/bridgemail/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "bridgemail:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags("bridgemail", args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	stack, err := bridge.NewStack(ctx, bridge.StackConfig{
		Config:    cfg,
		StorePath: flags.StorePath,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// Bind before announcing startup so port conflicts fail fast.
	if err := stack.Listen(); err != nil {
		return err
	}

	logger.Info("starting bridgemail",
		"hostname", cfg.EffectiveHostname(),
		"smtp_port", cfg.SMTP.Port,
		"pop3_port", cfg.POP3.Port,
		"store", flags.StorePath)

	if err := stack.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
