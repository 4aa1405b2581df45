package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tyemirov/frontdesk/internal/controller"
	"github.com/tyemirov/frontdesk/internal/web"
	"go.uber.org/zap"
)

const defaultServeSessionURL = "memory://"

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func runServe(command *cobra.Command, arguments []string) error {
	serveConfig, ok := commandValue(command, serveConfigContextKey).(ServeConfig)
	if !ok {
		return configError(configCodeUninitializedServeConf, "serve configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	lifetimeCtx, cancelLifetime := context.WithCancel(context.Background())
	defer cancelLifetime()

	sessionController, closeStorage, err := buildController(lifetimeCtx, serveConfig.ClientConfig, defaultServeSessionURL, logger,
		controller.WithLoginPath(serveConfig.LoginPath),
		controller.WithDefaultDestination(serveConfig.DefaultDestination))
	if err != nil {
		return err
	}
	defer closeStorage()
	sessionController.Start(lifetimeCtx)

	dashboard, err := web.NewDashboard(sessionController, web.Config{
		LoginPath:          serveConfig.LoginPath,
		DefaultDestination: serveConfig.DefaultDestination,
		NonceTTL:           serveConfig.NonceTTL,
		AllowedOrigins:     serveConfig.AllowedOrigins,
	}, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))
	if err := dashboard.Mount(router); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              serveConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening",
		zap.String("addr", serveConfig.ListenAddr),
		zap.String("auth_base_url", serveConfig.AuthBaseURL))
	return runHTTPServer(lifetimeCtx, server, logger)
}

// runHTTPServer serves until SIGINT or SIGTERM, then drains connections.
func runHTTPServer(ctx context.Context, server *http.Server, logger *zap.Logger) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(context.WithoutCancel(shutdownCtx), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
