package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/config"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/counters"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/database"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/interactions"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/server"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/votes"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agora-api",
		Short: "Agora interaction engine backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute every stored interaction counter and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context())
		},
	}
	rootCmd.AddCommand(serveCmd, reconcileCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to an optional dotenv file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for notification fan-out")
	cmd.PersistentFlags().Float64("rate-limit-rps", defaults.GetFloat64("ratelimit.rps"), "Per-actor request rate")
	cmd.PersistentFlags().Int("rate-limit-burst", defaults.GetInt("ratelimit.burst"), "Per-actor request burst")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "ratelimit.rps", "rate-limit-rps")
	bindFlag(cmd, "ratelimit.burst", "rate-limit-burst")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func bootstrap() (config.AppConfig, *zap.Logger, *gorm.DB, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}

	db, err := database.Open(database.Config{
		Driver:         appConfig.DatabaseDriver,
		DSN:            appConfig.DatabaseDSN,
		SweepBatchSize: appConfig.SweepBatchSize,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, err
	}
	return appConfig, logger, db, nil
}

func runReconcile(ctx context.Context) error {
	appConfig, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	reconciler, err := counters.NewReconciler(counters.ReconcilerConfig{
		Database:  db,
		BatchSize: appConfig.SweepBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	_, err = reconciler.ReconcileAll(ctx)
	return err
}

func runServer(ctx context.Context) error {
	appConfig, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := ids.NewUUIDProvider()
	recorder := metrics.NewRecorder()
	dispatcher := notifications.NewDispatcher(0)

	publishers := notifications.MultiPublisher{dispatcher}
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()
		redisPublisher, err := notifications.NewRedisPublisher(redisClient)
		if err != nil {
			return err
		}
		publishers = append(publishers, redisPublisher)
		logger.Info("redis notification fan-out enabled", zap.String("address", appConfig.RedisAddress))
	}

	contentService, err := content.NewService(content.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	commentStore, err := comments.NewStore(comments.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Content:    contentService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	resolver, err := interactions.NewTargetResolver(contentService, commentStore, userService)
	if err != nil {
		return err
	}
	relationshipStore, err := relationships.NewStore(relationships.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Resolver:   resolver,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	voteStore, err := votes.NewStore(votes.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Polls:      contentService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	reconciler, err := counters.NewReconciler(counters.ReconcilerConfig{
		Database:  db,
		BatchSize: appConfig.SweepBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Publisher:  publishers,
		Failures:   recorder,
		Timeout:    appConfig.NotificationTimeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	gateway, err := interactions.NewService(interactions.Config{
		Content:       contentService,
		Relationships: relationshipStore,
		Comments:      commentStore,
		Votes:         voteStore,
		Counters:      reconciler,
		Notifier:      notificationService,
		Metrics:       recorder,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Actors:         userService,
		Interactions:   gateway,
		Inbox:          notificationService,
		Realtime:       dispatcher,
		Metrics:        recorder,
		HealthCheck:    sqlDB.PingContext,
		AllowedOrigins: appConfig.AllowedOrigins,
		RateLimitRPS:   appConfig.RateLimitRPS,
		RateLimitBurst: appConfig.RateLimitBurst,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
