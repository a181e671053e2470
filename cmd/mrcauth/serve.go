// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/mrcsystems/mrcauth/internal/api"
	"github.com/mrcsystems/mrcauth/internal/auth"
	"github.com/mrcsystems/mrcauth/internal/config"
	"github.com/mrcsystems/mrcauth/internal/logging"
	"github.com/mrcsystems/mrcauth/internal/mail"
	"github.com/mrcsystems/mrcauth/internal/observability"
	"github.com/mrcsystems/mrcauth/internal/ratelimit"
	"github.com/mrcsystems/mrcauth/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the HTTP API that handles login, token refresh, logout, profile
updates and password resets, plus the metrics and health listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServe starts the service with injectable dependencies and blocks
// until a signal arrives, ctx ends or a listener fails.
func runServe(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").Wrapf(err, "invalid configuration")
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	logger := logging.SetDefault(logging.Options{
		Service: "mrcauth",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	})

	logger.Info("starting mrcauth",
		"storage", cfg.Storage,
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var b *backends
	obsServer := observability.NewServer(cfg.Metrics.Addr, func(ctx context.Context) bool {
		return b != nil && b.ready(ctx)
	}, logger)
	metrics := obsServer.Metrics()

	b, err = buildBackends(ctx, cfg, deps, metrics, obsServer.Registry(), logger)
	if err != nil {
		return err
	}
	defer b.close()

	svc, janitor, dispatcher, err := buildService(cfg, b, metrics, logger)
	if err != nil {
		return err
	}

	// Background workers outlive the signal context so they can drain.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	dispatcher.Start(workCtx)
	janitor.Start(workCtx)
	if b.sweep != nil {
		go sweepLoop(workCtx, b.sweep)
	}
	defer func() {
		janitor.Stop()
		dispatcher.Stop()
	}()

	handler := api.NewHandler(svc, api.Options{
		Version:    version,
		TrustProxy: cfg.HTTP.TrustProxy,
		Cookies: api.CookieOptions{
			Secure: cfg.Cookies.Secure,
			Domain: cfg.Cookies.Domain,
			Path:   cfg.Cookies.Path,
		},
		Logger: logger,
	})
	apiServer := api.NewServer(api.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, handler.Routes(), logger)

	apiErrCh, err := apiServer.Start()
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			shutdown(cfg, logger, apiServer, nil)
			return err //nolint:wrapcheck // already coded
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	if deps.OnReady != nil {
		deps.OnReady(apiServer.Addr(), obsServer.Addr())
	}
	if cmd != nil {
		cmd.Println("mrcauth started")
	}
	logger.Info("mrcauth ready", "http_addr", apiServer.Addr())

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdown(cfg, logger, apiServer, obsServer)
	logger.Info("shutdown complete")
	return nil
}

// buildService wires the auth components on top of b.
func buildService(cfg config.Config, b *backends, metrics *observability.AuthMetrics, logger *slog.Logger) (*auth.Service, *auth.ResetJanitor, *mail.Dispatcher, error) {
	hasher, err := auth.NewArgon2idHasher(cfg.HasherParams())
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}
	policy, err := cfg.LockoutPolicy()
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}
	lockout, err := auth.NewLockoutTracker(b.accounts, policy, nil)
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}
	tokens, err := auth.NewTokenIssuer(cfg.TokenConfig(), b.denylist, nil)
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}
	resets, err := auth.NewResetTokenStore(b.resets, cfg.Reset.TTL, nil)
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}
	limiter, err := ratelimit.New(b.limiterStore, cfg.RateLimitRules())
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}

	sender, err := newSender(cfg.Mail, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	dispatcher, err := mail.NewDispatcher(sender, mail.DispatcherConfig{
		QueueSize:     cfg.Mail.QueueSize,
		SendTimeout:   cfg.Mail.Timeout,
		ResetLinkBase: cfg.Mail.ResetLinkBase,
	}, logger, metrics)
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Accounts: b.accounts,
		Hasher:   hasher,
		Lockout:  lockout,
		Tokens:   tokens,
		Resets:   resets,
		Limiter:  limiter,
		Notifier: dispatcher,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, err //nolint:wrapcheck // already coded
	}

	janitor := auth.NewResetJanitor(resets, cfg.Reset.PruneInterval, cfg.Reset.Retention, logger)
	return svc, janitor, dispatcher, nil
}

func newSender(cfg config.MailConfig, logger *slog.Logger) (mail.Sender, error) {
	if cfg.APIURL == "" {
		logger.Warn("mail.api_url not set; reset emails are logged, not sent")
		return mail.NewLogSender(logger), nil
	}
	sender, err := mail.NewHTTPSender(mail.HTTPSenderConfig{
		URL:       cfg.APIURL,
		APIKey:    cfg.APIKey,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // already coded
	}
	return sender, nil
}

func sweepLoop(ctx context.Context, sweep func()) {
	ticker := time.NewTicker(denylistSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// shutdown stops the listeners, bounded by the configured timeout.
func shutdown(cfg config.Config, logger *slog.Logger, apiServer *api.Server, obsServer *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		errutil.LogWarn(ctx, logger, "error stopping api server", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(ctx); err != nil {
			errutil.LogWarn(ctx, logger, "error stopping observability server", err)
		}
	}
}

// monitorServerErrors cancels ctx when a server reports a fatal error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
