package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/inboxhook/internal/config"
	"github.com/teemow/inboxhook/internal/graph"
	"github.com/teemow/inboxhook/internal/identity"
	"github.com/teemow/inboxhook/internal/instrumentation"
	"github.com/teemow/inboxhook/internal/logging"
	"github.com/teemow/inboxhook/internal/notification"
	"github.com/teemow/inboxhook/internal/server"
	"github.com/teemow/inboxhook/internal/store"
	"github.com/teemow/inboxhook/internal/subscription"
)

// serveFlags holds the flag values of the serve command. A flag only
// overrides the environment when it was set explicitly.
type serveFlags struct {
	debug          bool
	listenAddr     string
	host           string
	clientState    string
	storeType      string
	redisURL       string
	logFormat      string
	metricsEnabled bool
	metricsAddr    string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sign-in and webhook server",
		Long: `Start the HTTP server that signs users in with Microsoft, subscribes to
changes of their mailbox and receives the change notifications.

Required settings (environment or .env):
  CLIENT_ID       application (client) id
  CLIENT_SECRET   client secret
  HOST            public base URL, e.g. https://mail.example.com

Graph must be able to reach HOST/hook/notification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	bindServeFlags(cmd, &flags)

	return cmd
}

func bindServeFlags(cmd *cobra.Command, flags *serveFlags) {
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug logging. Can also use LOG_LEVEL=debug.")
	cmd.Flags().StringVar(&flags.listenAddr, "listen-addr", config.DefaultListenAddr, "Address the HTTP server listens on. Can also use LISTEN_ADDR or PORT.")
	cmd.Flags().StringVar(&flags.host, "host", "", "Public base URL of this server. Can also use HOST.")
	cmd.Flags().StringVar(&flags.clientState, "client-state", "", "Fixed client state for all subscriptions. Empty means one per subscription. Can also use CLIENT_STATE.")
	cmd.Flags().StringVar(&flags.storeType, "store", config.StoreMemory, "State store: memory or redis. Can also use STORE.")
	cmd.Flags().StringVar(&flags.redisURL, "redis-url", "", "Redis URL for the redis store, e.g. redis://localhost:6379/0. Can also use REDIS_URL.")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", config.DefaultLogFormat, "Log format: text or json. Can also use LOG_FORMAT.")
	cmd.Flags().BoolVar(&flags.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED.")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR.")
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags serveFlags) {
	changed := cmd.Flags().Changed

	if changed("debug") && flags.debug {
		cfg.LogLevel = "debug"
	}
	if changed("listen-addr") {
		cfg.ListenAddr = flags.listenAddr
	}
	if changed("host") {
		cfg.Host = flags.host
	}
	if changed("client-state") {
		cfg.ClientState = flags.clientState
	}
	if changed("store") {
		cfg.Store = flags.storeType
	}
	if changed("redis-url") {
		cfg.Redis.URL = flags.redisURL
	}
	if changed("log-format") {
		cfg.LogFormat = flags.logFormat
	}
	if changed("metrics-enabled") {
		cfg.MetricsEnabled = flags.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
}

// newStore opens the configured state store.
func newStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		st, err := store.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreMemory, "":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if err := instrConfig.Validate(); err != nil {
		return fmt.Errorf("invalid instrumentation config: %w", err)
	}

	provider, err := instrumentation.NewProvider(ctx, instrConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	st, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("error closing store", logging.Err(err))
		}
	}()

	outbound := otelhttp.NewTransport(http.DefaultTransport)

	identityClient := identity.NewClient(identity.Config{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		Tenant:        cfg.Tenant,
		AuthorityHost: cfg.AuthorityHost,
		RedirectURL:   cfg.RedirectURL(),
		HTTPClient:    &http.Client{Transport: outbound, Timeout: cfg.GraphTimeout},
	}, st, metrics, logger)

	graphClient := graph.NewClient(graph.Config{
		BaseURL:   cfg.GraphBaseURL,
		Timeout:   cfg.GraphTimeout,
		RateLimit: cfg.GraphRateLimit,
		RateBurst: cfg.GraphRateBurst,
	}, identityClient, metrics, logger)

	subscriptions := subscription.NewManager(subscription.Config{
		NotificationURL:   cfg.NotificationURL(),
		ChangeType:        cfg.Subscription.ChangeType,
		ClientState:       cfg.ClientState,
		Lifetime:          cfg.Subscription.Lifetime,
		DeleteConcurrency: cfg.Subscription.DeleteConcurrency,
		RenewConcurrency:  cfg.Subscription.RenewConcurrency,
		RenewBefore:       cfg.Subscription.RenewBefore,
	}, graphClient, st, metrics, logger)

	notifications := notification.NewHandler(notification.Config{
		DedupTTL:       cfg.Notification.DedupTTL,
		ProcessTimeout: cfg.Notification.ProcessTimeout,
		Concurrency:    cfg.Notification.Concurrency,
	}, st, graphClient, metrics, logger)

	sessions, err := server.NewSessionManager(server.SessionConfig{
		Secret: cfg.SessionSecret,
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.SecureCookies(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	serverContext := server.NewServerContext(ctx, st)
	health := server.NewHealthChecker(serverContext, version)

	srv := server.New(server.Config{
		Auth:          identityClient,
		Mailbox:       graphClient,
		Subscriptions: subscriptions,
		Notifications: notifications,
		Sessions:      sessions,
		Health:        health,
		Metrics:       metrics,
		Logger:        logger,
	})

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.Enabled() && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		// Use ready channel to confirm metrics server started successfully
		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
			close(metricsErr)
		}()

		select {
		case <-metricsReady:
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return errors.New("metrics server startup timed out")
		}
	}

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		subscriptions.RunRenewer(serverContext.Context(), cfg.Subscription.RenewInterval)
	}()

	httpServer := server.NewHTTPServer(cfg.ListenAddr, srv.Handler())
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	logger.Info("inboxhook started",
		"version", version,
		"addr", cfg.ListenAddr,
		"host", cfg.Host,
		"notification_url", cfg.NotificationURL(),
		"store", cfg.Store,
		"client_state_mode", clientStateMode(cfg.ClientState))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverDone:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	health.SetReady(false)
	serverContext.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", logging.Err(err))
	}
	notifications.Wait()
	background.Wait()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during metrics server shutdown", logging.Err(err))
		}
	}

	logger.Info("inboxhook stopped")
	return serveErr
}

func clientStateMode(fixed string) string {
	if fixed == "" {
		return "per-subscription"
	}
	return "fixed"
}
