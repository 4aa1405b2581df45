package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tyemirov/frontdesk/internal/authclient"
	"github.com/tyemirov/frontdesk/internal/controller"
	"github.com/tyemirov/frontdesk/internal/session"
	"github.com/tyemirov/frontdesk/internal/sessionpg"
	"go.uber.org/zap"
)

// openSessionStorage selects a storage medium from its URL. An empty URL means
// defaultURL.
func openSessionStorage(ctx context.Context, sessionURL string, defaultURL string, logger *zap.Logger) (session.Storage, func(), error) {
	if strings.TrimSpace(sessionURL) == "" {
		sessionURL = defaultURL
	}
	parsed, err := url.Parse(sessionURL)
	if err != nil {
		return nil, nil, fmt.Errorf("session_storage.parse_url: %w", err)
	}
	noop := func() {}

	switch strings.ToLower(parsed.Scheme) {
	case "memory":
		logger.Info("using in-memory session storage", zap.String("code", "session_storage.memory"))
		return session.NewMemoryStorage(), noop, nil
	case "file":
		path := parsed.Path
		if parsed.Host != "" {
			path = parsed.Host + parsed.Path
		}
		if path == "" {
			if path, err = session.DefaultFilePath(); err != nil {
				return nil, nil, err
			}
		}
		fileStorage, err := session.NewFileStorage(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file session storage",
			zap.String("code", "session_storage.file"),
			zap.String("path", fileStorage.Path()))
		return fileStorage, noop, nil
	case sessionpg.Scheme:
		pgStorage, err := sessionpg.Open(ctx, sessionURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using pgx session storage", zap.String("code", "session_storage.pgx"))
		return pgStorage, pgStorage.Close, nil
	default:
		databaseStorage, err := session.NewDatabaseStorage(ctx, sessionURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using database session storage",
			zap.String("code", "session_storage.database"),
			zap.String("driver", databaseStorage.Driver()))
		return databaseStorage, noop, nil
	}
}

// buildController wires storage, transport and the session controller.
func buildController(ctx context.Context, clientConfig ClientConfig, defaultSessionURL string, logger *zap.Logger, options ...controller.Option) (*controller.Controller, func(), error) {
	storage, closeStorage, err := openSessionStorage(ctx, clientConfig.SessionURL, defaultSessionURL, logger)
	if err != nil {
		return nil, nil, err
	}
	transport, err := authclient.NewHTTPTransport(clientConfig.AuthBaseURL,
		authclient.WithTimeout(clientConfig.AuthTimeout),
		authclient.WithLogger(logger))
	if err != nil {
		closeStorage()
		return nil, nil, err
	}
	options = append([]controller.Option{
		controller.WithLogger(logger),
		controller.WithLogoutTimeout(clientConfig.LogoutTimeout),
		controller.WithRefreshOptions(authclient.WithRefreshTimeout(clientConfig.AuthTimeout)),
	}, options...)
	sessionController, err := controller.New(session.NewStore(storage, logger), transport, options...)
	if err != nil {
		closeStorage()
		return nil, nil, err
	}
	return sessionController, closeStorage, nil
}
