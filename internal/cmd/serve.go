package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aether-os/kernel/internal/audit"
	"github.com/aether-os/kernel/internal/authcore"
	"github.com/aether-os/kernel/internal/boundary"
	"github.com/aether-os/kernel/internal/config"
	"github.com/aether-os/kernel/internal/eventbus"
	"github.com/aether-os/kernel/internal/process"
	"github.com/aether-os/kernel/internal/scheduler"
	"github.com/aether-os/kernel/internal/sse"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kernel: boundary API, scheduler, and core subsystems",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPathFlag(cmd))
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: logLevel}
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer func() { _ = s.Close() }()

	bus := eventbus.New(logger)

	var initialAdmin *authcore.InitialAdmin
	if cfg.Auth.InitialAdmin != nil {
		initialAdmin = &authcore.InitialAdmin{
			Username: cfg.Auth.InitialAdmin.Username,
			Password: cfg.Auth.InitialAdmin.Password,
		}
	}
	tokenSecret, generated, err := cfg.EnsureTokenSecret()
	if err != nil {
		logger.Error("failed to acquire a token secret", "error", err)
		return err
	}
	if generated {
		logger.Info("no auth.token_secret configured, generated an ephemeral one; issued tokens will not survive a restart")
	}
	auth := authcore.New(s, bus, authcore.Config{
		TokenSecret: tokenSecret,
		TokenExpiry: cfg.Auth.TokenExpiry.Duration,
		MFATokenTTL: cfg.Auth.MFATokenTTL.Duration,
	})
	if err := auth.Bootstrap(ctx, initialAdmin); err != nil {
		logger.Error("failed to bootstrap initial admin", "error", err)
		return err
	}

	maxProcesses := cfg.Process.MaxProcesses
	if maxProcesses == 0 {
		maxProcesses = 64
	}
	maxQueueLen := cfg.Process.MaxQueueLength
	if maxQueueLen == 0 {
		maxQueueLen = 256
	}
	procs := process.New(bus, logger, maxProcesses, maxQueueLen)

	auditLogger := audit.New(s, logger)
	fanout := sse.New(bus, logger)
	sched := scheduler.New(s, procs, bus, logger)

	srv := boundary.NewServer(s, auth, procs, auditLogger, fanout, bus, cfg, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		_ = httpServer.Close()
	}()

	go sched.Run(ctx)

	logger.Info("aetherd starting", "version", version, "addr", cfg.Server.Addr)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("aetherd stopped")
	return nil
}
