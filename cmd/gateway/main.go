package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dsnplabs/social-gateway/internal/announcement"
	"github.com/dsnplabs/social-gateway/internal/auth"
	"github.com/dsnplabs/social-gateway/internal/clients"
	"github.com/dsnplabs/social-gateway/internal/config"
	"github.com/dsnplabs/social-gateway/internal/content"
	"github.com/dsnplabs/social-gateway/internal/database"
	"github.com/dsnplabs/social-gateway/internal/feed"
	"github.com/dsnplabs/social-gateway/internal/ingest"
	"github.com/dsnplabs/social-gateway/internal/logging"
	"github.com/dsnplabs/social-gateway/internal/realtime"
	"github.com/dsnplabs/social-gateway/internal/server"
	"github.com/dsnplabs/social-gateway/internal/status"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Social gateway backend-for-frontend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("content-gateway-url", defaults.GetString("content.gateway_url"), "Content gateway URL template with [CID] placeholder")
	cmd.PersistentFlags().String("graph-base-url", "", "Graph service base URL")
	cmd.PersistentFlags().String("chain-base-url", "", "Content watcher base URL")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for operation status tracking (empty keeps statuses in memory)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "content.gateway_url", "content-gateway-url")
	bindFlag(cmd, "graph.base_url", "graph-base-url")
	bindFlag(cmd, "chain.base_url", "chain-base-url")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := announcement.NewStore(announcement.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	resolver, err := content.NewResolver(content.ResolverConfig{
		Store:           store,
		GatewayTemplate: appConfig.ContentGatewayURL,
		FetchTimeout:    appConfig.ContentTimeout,
		Concurrency:     appConfig.ContentConcurrency,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer resolver.Close()

	cache, err := content.NewCache(content.CacheConfig{Resolver: resolver, Logger: logger})
	if err != nil {
		return err
	}

	graphClient, err := clients.NewHTTPGraph(clients.HTTPGraphConfig{
		BaseURL: appConfig.GraphServiceURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	headClient, err := clients.NewHTTPHead(clients.HTTPHeadConfig{
		BaseURL: appConfig.ContentWatcherURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var statusStore status.Store
	if appConfig.RedisAddress != "" {
		redisStore, err := status.NewRedisStore(ctx, status.RedisStoreConfig{
			Address: appConfig.RedisAddress,
			TTL:     appConfig.StatusTTL,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer redisStore.Close() //nolint:errcheck
		statusStore = redisStore
	} else {
		statusStore = status.NewMemoryStore()
	}

	dispatcher := realtime.NewDispatcher()

	ingestService, err := ingest.NewService(ingest.ServiceConfig{
		Store:     store,
		Status:    statusStore,
		Publisher: dispatcher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	feedService, err := feed.NewService(feed.ServiceConfig{
		Posts:         cache,
		Announcements: store,
		Graph:         graphClient,
		Head:          headClient,
		MaxBlockRange: appConfig.MaxBlockRange,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	tokens := auth.NewAccessTokens(auth.AccessTokensConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "social-gateway-auth",
		Audience:      "social-gateway-api",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Feed:     feedService,
		Ingest:   ingestService,
		Status:   statusStore,
		Graph:    graphClient,
		Tokens:   tokens,
		Realtime: dispatcher,
		Logger:   logger,
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
