package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/leotyps/jkt48connect/internal/changelog"
	"github.com/leotyps/jkt48connect/internal/chat/idn"
	"github.com/leotyps/jkt48connect/internal/chat/showroom"
	"github.com/leotyps/jkt48connect/internal/checkoutlog"
	"github.com/leotyps/jkt48connect/internal/fulfillment"
	"github.com/leotyps/jkt48connect/internal/grpcserver"
	"github.com/leotyps/jkt48connect/internal/jkt48api"
	"github.com/leotyps/jkt48connect/internal/metrics"
	"github.com/leotyps/jkt48connect/internal/qris"
	"github.com/leotyps/jkt48connect/internal/store/gormstore"
	"github.com/leotyps/jkt48connect/internal/store/redisstore"
	"github.com/leotyps/jkt48connect/internal/webapi"
	"github.com/leotyps/jkt48connect/pkg/chat"
	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const (
	envPrefix = "JKT48CONNECT"

	flagDatabaseURL       = "database-url"
	flagRedisURL          = "redis-url"
	flagListenAddr        = "listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagAdminEmails       = "admin-emails"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookie     = "session-cookie-name"
	flagSessionRetention  = "session-retention"
	flagCheckoutRate      = "checkout-rate"
	flagCheckoutBurst     = "checkout-burst"
	flagQRISBaseURL       = "qris-base-url"
	flagQRISAPIKey        = "qris-api-key"
	flagQRISCode          = "qris-code"
	flagQRISMerchant      = "qris-merchant"
	flagQRISKeyOrkut      = "qris-keyorkut"
	flagAPIBaseURL        = "api-base-url"
	flagAPIKey            = "api-key"
	flagAPIAdminToken     = "api-admin-token"
	flagKeyValidityDays   = "key-validity-days"
	flagIDNGatewayURL     = "idn-gateway-url"
	flagIDNResolverURL    = "idn-resolver-url"
	flagShowroomBaseURL   = "showroom-base-url"

	defaultDatabaseURL    = "sqlite:///tmp/jkt48connect.db"
	defaultListenAddr     = ":8080"
	defaultGRPCListenAddr = ":7000"
)

type runtimeConfig struct {
	DatabaseURL     string
	RedisURL        string
	GRPCListenAddr  string
	HTTP            webapi.Config
	QRIS            qris.Config
	APIBaseURL      string
	APIKey          string
	APIAdminToken   string
	KeyValidityDays int64
	IDN             idn.Config
	ShowroomBaseURL string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jkt48connectd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "jkt48connectd",
		Short:         "JKT48Connect checkout and live chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or SQLite path")
	flags.String(flagRedisURL, "", "Redis URL for shared total reservations (in-process when empty)")
	flags.String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC health listen address")
	flags.String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	flags.String(flagAdminEmails, "", "Comma-separated emails allowed to edit the changelog")
	flags.String(flagSessionSigningKey, "", "Session cookie HMAC signing key")
	flags.String(flagSessionIssuer, "", "Session cookie issuer")
	flags.String(flagSessionCookie, "", "Session cookie name")
	flags.Duration(flagSessionRetention, 0, "How long settled checkouts stay in memory")
	flags.Int(flagCheckoutRate, 0, "Checkout creations allowed per client per minute")
	flags.Int(flagCheckoutBurst, 0, "Checkout creation burst per client")
	flags.String(flagQRISBaseURL, "", "QRIS gateway base URL")
	flags.String(flagQRISAPIKey, "", "QRIS gateway API key")
	flags.String(flagQRISCode, "", "Merchant static QRIS payload")
	flags.String(flagQRISMerchant, "", "QRIS merchant id")
	flags.String(flagQRISKeyOrkut, "", "QRIS merchant key")
	flags.String(flagAPIBaseURL, jkt48api.DefaultBaseURL, "JKT48Connect data API base URL")
	flags.String(flagAPIKey, "", "JKT48Connect data API key")
	flags.String(flagAPIAdminToken, "", "JKT48Connect admin bearer token")
	flags.Int64(flagKeyValidityDays, fulfillment.DefaultValidityDays, "Validity of purchased API keys in days")
	flags.String(flagIDNGatewayURL, idn.DefaultGatewayURL, "IDN chat WebSocket gateway")
	flags.String(flagIDNResolverURL, "", "IDN channel lookup URL (room is the channel when empty)")
	flags.String(flagShowroomBaseURL, showroom.DefaultBaseURL, "Showroom API base URL")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := settings.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}
	if err := settings.BindEnv(flagRedisURL, envPrefix+"_REDIS_URL", "REDIS_URL"); err != nil {
		return err
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.RedisURL = settings.GetString(flagRedisURL)
	cfg.GRPCListenAddr = settings.GetString(flagGRPCListenAddr)
	if cfg.GRPCListenAddr == "" {
		cfg.GRPCListenAddr = defaultGRPCListenAddr
	}
	cfg.HTTP = webapi.Config{
		ListenAddr:        settings.GetString(flagListenAddr),
		AllowedOrigins:    webapi.ParseList(settings.GetString(flagAllowedOrigins)),
		AdminEmails:       webapi.ParseList(settings.GetString(flagAdminEmails)),
		SessionSigningKey: settings.GetString(flagSessionSigningKey),
		SessionIssuer:     settings.GetString(flagSessionIssuer),
		SessionCookieName: settings.GetString(flagSessionCookie),
		SessionRetention:  settings.GetDuration(flagSessionRetention),

		CheckoutRatePerMinute: settings.GetInt(flagCheckoutRate),
		CheckoutBurst:         settings.GetInt(flagCheckoutBurst),
	}
	if err := cfg.HTTP.Validate(); err != nil {
		return err
	}
	qrisConfig, err := qris.Config{
		BaseURL:  settings.GetString(flagQRISBaseURL),
		APIKey:   settings.GetString(flagQRISAPIKey),
		QRISCode: settings.GetString(flagQRISCode),
		Merchant: settings.GetString(flagQRISMerchant),
		KeyOrkut: settings.GetString(flagQRISKeyOrkut),
	}.Validate()
	if err != nil {
		return err
	}
	cfg.QRIS = qrisConfig
	cfg.APIBaseURL = settings.GetString(flagAPIBaseURL)
	cfg.APIKey = settings.GetString(flagAPIKey)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fmt.Errorf("api key is required")
	}
	cfg.APIAdminToken = settings.GetString(flagAPIAdminToken)
	cfg.KeyValidityDays = settings.GetInt64(flagKeyValidityDays)
	cfg.IDN = idn.Config{
		GatewayURL:  settings.GetString(flagIDNGatewayURL),
		ResolverURL: settings.GetString(flagIDNResolverURL),
		Policy:      chat.DefaultReconnectPolicy(),
	}
	cfg.ShowroomBaseURL = settings.GetString(flagShowroomBaseURL)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()
	if err := prepareSchema(gormDB); err != nil {
		return err
	}
	logger.Info("database ready", zap.String("driver", driver))
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	store := gormstore.New(gormDB)
	collector := metrics.New()

	readiness := map[string]webapi.ReadinessCheck{
		"database": sqlDB.PingContext,
	}
	var reserver checkout.TotalReserver = checkout.NewMemoryReserver(nil)
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis open: %w", err)
		}
		defer redisClient.Close()
		redisReserver, err := redisstore.NewReserver(redisClient)
		if err != nil {
			return err
		}
		reserver = redisReserver
		readiness["redis"] = func(ctx context.Context) error { return redisstore.Ping(ctx, redisClient) }
	}

	apiOptions := []jkt48api.Option{}
	if cfg.APIAdminToken != "" {
		apiOptions = append(apiOptions, jkt48api.WithAdminToken(cfg.APIAdminToken))
	}
	apiClient, err := jkt48api.NewClient(cfg.APIBaseURL, cfg.APIKey, apiOptions...)
	if err != nil {
		return fmt.Errorf("data api client: %w", err)
	}
	gateway, err := qris.NewClient(cfg.QRIS, nil)
	if err != nil {
		return fmt.Errorf("qris client: %w", err)
	}
	fulfiller, err := newFulfiller(apiClient.Admin(), store, cfg.KeyValidityDays)
	if err != nil {
		return err
	}

	transitions := checkoutlog.NewFanout(checkoutlog.NewZapLogger(logger), collector)
	registry, err := webapi.NewRegistry(func(id string) (*checkout.Controller, error) {
		return checkout.NewController(id, gateway, fulfiller, checkout.SystemClock{},
			checkout.WithTransitionLogger(transitions),
			checkout.WithSessionRecorder(store),
			checkout.WithTotalReserver(reserver),
		)
	}, cfg.HTTP.SessionRetention)
	if err != nil {
		return err
	}
	defer registry.Close()

	hub, err := chat.NewHub(newRelayFactory(cfg, collector), chat.WithObserver(collector))
	if err != nil {
		return err
	}
	defer hub.Close()

	changelogs, err := changelog.NewService(store, nil)
	if err != nil {
		return err
	}

	checkoutCheck := func(ctx context.Context) error {
		for _, check := range readiness {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	healthServer, err := grpcserver.NewHealthServer(map[string]grpcserver.Check{
		grpcserver.ServiceCheckout: checkoutCheck,
		grpcserver.ServiceChat:     func(context.Context) error { return hub.Err() },
	}, grpcserver.WithLogger(logger))
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return webapi.Run(groupCtx, cfg.HTTP, webapi.Dependencies{
			Logger:         logger,
			Checkouts:      registry,
			Sessions:       store,
			Chat:           hub,
			Changelogs:     changelogs,
			Catalog:        apiClient,
			Admin:          apiClient.Admin(),
			DataChangelogs: apiClient.Database(),
			Metrics:        collector,
			Readiness:      readiness,
		})
	})
	group.Go(func() error {
		return grpcserver.Serve(groupCtx, cfg.GRPCListenAddr, healthServer, logger)
	})
	err = group.Wait()
	logger.Info("shutdown complete")
	return err
}

func newFulfiller(admin fulfillment.AdminClient, store fulfillment.DonationStore, validityDays int64) (*fulfillment.Router, error) {
	issuer, err := fulfillment.NewAPIKeyIssuer(admin, validityDays)
	if err != nil {
		return nil, err
	}
	limits, err := fulfillment.NewLimitExtender(admin)
	if err != nil {
		return nil, err
	}
	expiry, err := fulfillment.NewExpiryExtender(admin)
	if err != nil {
		return nil, err
	}
	donations, err := fulfillment.NewDonationRecorder(store, nil)
	if err != nil {
		return nil, err
	}
	return fulfillment.NewRouter(map[checkout.Kind]checkout.Fulfiller{
		checkout.KindAPIKey:   issuer,
		checkout.KindLimit:    limits,
		checkout.KindExpiry:   expiry,
		checkout.KindDonation: donations,
	})
}

func newRelayFactory(cfg *runtimeConfig, collector *metrics.Collector) chat.RelayFactory {
	return func(provider chat.Provider, room string) (chat.Relay, error) {
		switch provider {
		case chat.ProviderIDN:
			return idn.NewClient(room, cfg.IDN, idn.WithReconnectHook(collector.ReconnectHook(chat.ProviderIDN)))
		case chat.ProviderShowroom:
			return showroom.NewPoller(room, cfg.ShowroomBaseURL, showroom.WithErrorHook(collector.PollErrorHook(chat.ProviderShowroom)))
		default:
			return nil, fmt.Errorf("%w: %q", chat.ErrInvalidProvider, provider)
		}
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "jkt48connect.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Anything else is a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if filepath.IsAbs(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	relative := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(relative), 0o755); err != nil {
		return "", err
	}
	return relative, nil
}

// prepareSchema creates or extends the checkout, donation and changelog tables
// on both postgres and sqlite.
func prepareSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
