package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/frontdesk/internal/mockauth"
	"go.uber.org/zap"
)

func newMockAuthCommand() *cobra.Command {
	mockCmd := &cobra.Command{
		Use:     "mockauth",
		Short:   "Run a local auth service with username/password login and rotating refresh tokens",
		PreRunE: prepareMockAuthConfig,
		RunE:    runMockAuth,
	}

	mockCmd.Flags().String("listen_addr", ":8081", "HTTP listen address")
	mockCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	mockCmd.Flags().String("jwt_issuer", "frontdesk-mockauth", "Issuer claim of access tokens")
	mockCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	mockCmd.Flags().Duration("refresh_ttl", 30*24*time.Hour, "Refresh token TTL")
	mockCmd.Flags().String("refresh_store_url", "", "Database URL for refresh tokens (postgres:// or sqlite://; empty for in-memory)")
	mockCmd.Flags().Bool("dev_insecure_http", false, "Allow plain HTTP for local development")
	mockCmd.Flags().StringSlice("seed_users", []string{}, "Accounts to create on start: username:password[:name[:role|role]]")

	_ = viper.BindPFlag("mockauth_listen_addr", mockCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", mockCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("jwt_issuer", mockCmd.Flags().Lookup("jwt_issuer"))
	_ = viper.BindPFlag("access_ttl", mockCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", mockCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("refresh_store_url", mockCmd.Flags().Lookup("refresh_store_url"))
	_ = viper.BindPFlag("dev_insecure_http", mockCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("seed_users", mockCmd.Flags().Lookup("seed_users"))

	return mockCmd
}

func runMockAuth(command *cobra.Command, arguments []string) error {
	mockConfig, ok := commandValue(command, mockAuthConfigContextKey).(MockAuthConfig)
	if !ok {
		return configError(configCodeUninitializedServeConf, "mockauth configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	users := mockauth.NewInMemoryUsers()
	for _, seedUser := range mockConfig.SeedUsers {
		account, err := users.Seed(mockauth.Registration{
			Username:    seedUser.Username,
			Password:    seedUser.Password,
			DisplayName: seedUser.DisplayName,
		}, seedUser.Roles...)
		if err != nil {
			return err
		}
		logger.Info("seeded account",
			zap.String("code", "mockauth.seed"),
			zap.String("username", account.Username),
			zap.Strings("roles", account.Roles))
	}

	var refreshStore mockauth.RefreshTokenStore
	if mockConfig.RefreshStoreURL != "" {
		persistentStore, err := mockauth.NewDatabaseRefreshTokenStore(context.Background(), mockConfig.RefreshStoreURL)
		if err != nil {
			return err
		}
		refreshStore = persistentStore
		logger.Info("using persistent refresh token store", zap.String("driver", persistentStore.Driver()))
	} else {
		refreshStore = mockauth.NewMemoryRefreshTokenStore()
		logger.Info("using in-memory refresh token store")
	}

	metrics := mockauth.NewCounterMetrics()
	service, err := mockauth.NewService(mockauth.ServerConfig{
		SigningKey:        mockConfig.SigningKey,
		Issuer:            mockConfig.Issuer,
		AccessTTL:         mockConfig.AccessTTL,
		RefreshTTL:        mockConfig.RefreshTTL,
		AllowInsecureHTTP: mockConfig.AllowInsecureHTTP,
	}, users, refreshStore, mockauth.WithMetrics(metrics), mockauth.WithLogger(logger))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	service.Mount(router)
	mockauth.MountMetrics(router, metrics)

	server := &http.Server{
		Addr:              mockConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("mock auth listening", zap.String("addr", mockConfig.ListenAddr))
	return runHTTPServer(context.Background(), server, logger)
}
