package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configCodeMissingAuthBaseURL     = "config.missing_auth_base_url"
	configCodeInvalidAuthBaseURL     = "config.invalid_auth_base_url"
	configCodeInvalidAuthTimeout     = "config.invalid_auth_timeout"
	configCodeInvalidLogoutTimeout   = "config.invalid_logout_timeout"
	configCodeMissingJWTSigningKey   = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL       = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL      = "config.invalid_refresh_ttl"
	configCodeInvalidSeedUser        = "config.invalid_seed_user"
	configCodeUninitializedServeConf = "config.uninitialized_serve_config"
)

type contextKey string

const (
	serveConfigContextKey    contextKey = "serveConfig"
	mockAuthConfigContextKey contextKey = "mockAuthConfig"
)

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// ClientConfig holds what every session consumer needs to reach the auth service.
type ClientConfig struct {
	AuthBaseURL   string
	SessionURL    string
	AuthTimeout   time.Duration
	LogoutTimeout time.Duration
}

// ServeConfig configures the dashboard server.
type ServeConfig struct {
	ClientConfig
	ListenAddr         string
	LoginPath          string
	DefaultDestination string
	NonceTTL           time.Duration
	AllowedOrigins     []string
}

// MockAuthConfig configures the bundled mock auth service.
type MockAuthConfig struct {
	ListenAddr        string
	SigningKey        []byte
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RefreshStoreURL   string
	AllowInsecureHTTP bool
	SeedUsers         []SeedUser
}

// SeedUser is an account created when the mock auth service starts.
type SeedUser struct {
	Username    string
	Password    string
	DisplayName string
	Roles       []string
}

// LoadClientConfig reads the auth client settings.
func LoadClientConfig() (ClientConfig, error) {
	authBaseURL := strings.TrimSpace(viper.GetString("auth_base_url"))
	if authBaseURL == "" {
		return ClientConfig{}, configError(configCodeMissingAuthBaseURL, "auth_base_url must be provided")
	}
	parsed, parseErr := url.Parse(authBaseURL)
	if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidAuthBaseURL, "auth_base_url must be an http(s) URL")
	}

	authTimeout := viper.GetDuration("auth_timeout")
	if authTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidAuthTimeout, "auth_timeout must be greater than zero")
	}
	logoutTimeout := viper.GetDuration("logout_timeout")
	if logoutTimeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidLogoutTimeout, "logout_timeout must be greater than zero")
	}

	return ClientConfig{
		AuthBaseURL:   authBaseURL,
		SessionURL:    strings.TrimSpace(viper.GetString("session_url")),
		AuthTimeout:   authTimeout,
		LogoutTimeout: logoutTimeout,
	}, nil
}

// LoadServeConfig reads the dashboard server settings.
func LoadServeConfig() (ServeConfig, error) {
	clientConfig, err := LoadClientConfig()
	if err != nil {
		return ServeConfig{}, err
	}
	listenAddr := viper.GetString("listen_addr")
	if strings.TrimSpace(listenAddr) == "" {
		listenAddr = ":8080"
	}
	return ServeConfig{
		ClientConfig:       clientConfig,
		ListenAddr:         listenAddr,
		LoginPath:          viper.GetString("login_path"),
		DefaultDestination: viper.GetString("default_destination"),
		NonceTTL:           viper.GetDuration("nonce_ttl"),
		AllowedOrigins:     viper.GetStringSlice("cors_allowed_origins"),
	}, nil
}

// LoadMockAuthConfig reads the mock auth service settings.
func LoadMockAuthConfig() (MockAuthConfig, error) {
	signingKey := viper.GetString("jwt_signing_key")
	if signingKey == "" {
		return MockAuthConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}
	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return MockAuthConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}
	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return MockAuthConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}
	seedUsers, err := parseSeedUsers(viper.GetStringSlice("seed_users"))
	if err != nil {
		return MockAuthConfig{}, err
	}
	issuer := viper.GetString("jwt_issuer")
	if strings.TrimSpace(issuer) == "" {
		issuer = "frontdesk-mockauth"
	}
	listenAddr := viper.GetString("mockauth_listen_addr")
	if strings.TrimSpace(listenAddr) == "" {
		listenAddr = ":8081"
	}
	return MockAuthConfig{
		ListenAddr:        listenAddr,
		SigningKey:        []byte(signingKey),
		Issuer:            issuer,
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
		RefreshStoreURL:   strings.TrimSpace(viper.GetString("refresh_store_url")),
		AllowInsecureHTTP: viper.GetBool("dev_insecure_http"),
		SeedUsers:         seedUsers,
	}, nil
}

// parseSeedUsers reads entries of the form username:password[:Display Name[:role|role]].
func parseSeedUsers(entries []string) ([]SeedUser, error) {
	seedUsers := make([]SeedUser, 0, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		parts := strings.SplitN(trimmed, ":", 4)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || parts[1] == "" {
			return nil, configError(configCodeInvalidSeedUser, fmt.Sprintf("seed user %q must look like username:password[:name[:roles]]", trimmed))
		}
		seedUser := SeedUser{Username: strings.TrimSpace(parts[0]), Password: parts[1]}
		if len(parts) > 2 {
			seedUser.DisplayName = strings.TrimSpace(parts[2])
		}
		if len(parts) > 3 {
			for _, role := range strings.Split(parts[3], "|") {
				if role = strings.TrimSpace(role); role != "" {
					seedUser.Roles = append(seedUser.Roles, role)
				}
			}
		}
		seedUsers = append(seedUsers, seedUser)
	}
	return seedUsers, nil
}

func prepareServeConfig(command *cobra.Command, arguments []string) error {
	bindServeFlags(command)
	serveConfig, err := LoadServeConfig()
	if err != nil {
		return err
	}
	setCommandValue(command, serveConfigContextKey, serveConfig)
	return nil
}

func prepareMockAuthConfig(command *cobra.Command, arguments []string) error {
	mockConfig, err := LoadMockAuthConfig()
	if err != nil {
		return err
	}
	setCommandValue(command, mockAuthConfigContextKey, mockConfig)
	return nil
}

func setCommandValue(command *cobra.Command, key contextKey, value any) {
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, key, value))
}

func commandValue(command *cobra.Command, key contextKey) any {
	commandContext := command.Context()
	if commandContext == nil {
		return nil
	}
	return commandContext.Value(key)
}
