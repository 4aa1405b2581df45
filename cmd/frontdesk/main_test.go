package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/frontdesk/internal/mockauth"
	"github.com/tyemirov/frontdesk/internal/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := zap.NewProduction()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.Use(zapLoggerMiddleware(logger))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServeMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServe(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_serve_config: serve configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func TestLoadClientConfigRequiresAuthBaseURL(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("auth_timeout", time.Second)
	viper.Set("logout_timeout", time.Second)

	_, err := LoadClientConfig()
	if err == nil {
		t.Fatalf("expected error when auth_base_url is missing")
	}
	expectedMessage := "config.missing_auth_base_url: auth_base_url must be provided"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func TestLoadClientConfigValidation(t *testing.T) {
	testCases := []struct {
		name            string
		values          map[string]any
		expectedMessage string
	}{
		{
			name:            "non-http base url",
			values:          map[string]any{"auth_base_url": "ftp://auth.local", "auth_timeout": time.Second, "logout_timeout": time.Second},
			expectedMessage: "config.invalid_auth_base_url: auth_base_url must be an http(s) URL",
		},
		{
			name:            "zero auth timeout",
			values:          map[string]any{"auth_base_url": "http://auth.local", "auth_timeout": 0, "logout_timeout": time.Second},
			expectedMessage: "config.invalid_auth_timeout: auth_timeout must be greater than zero",
		},
		{
			name:            "zero logout timeout",
			values:          map[string]any{"auth_base_url": "http://auth.local", "auth_timeout": time.Second, "logout_timeout": 0},
			expectedMessage: "config.invalid_logout_timeout: logout_timeout must be greater than zero",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			for key, value := range testCase.values {
				viper.Set(key, value)
			}
			_, err := LoadClientConfig()
			if err == nil || err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %v", testCase.expectedMessage, err)
			}
		})
	}
}

func TestLoadServeConfigDefaultsListenAddr(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("auth_base_url", "http://localhost:8081")
	viper.Set("auth_timeout", time.Second)
	viper.Set("logout_timeout", time.Second)

	serveConfig, err := LoadServeConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if serveConfig.ListenAddr != ":8080" {
		t.Fatalf("expected default listen address, got %q", serveConfig.ListenAddr)
	}
	if serveConfig.AuthBaseURL != "http://localhost:8081" {
		t.Fatalf("unexpected auth base url %q", serveConfig.AuthBaseURL)
	}
}

func TestLoadMockAuthConfigRequiresSigningKey(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("access_ttl", time.Minute)
	viper.Set("refresh_ttl", time.Hour)

	_, err := LoadMockAuthConfig()
	expectedMessage := "config.missing_jwt_signing_key: jwt_signing_key must be provided"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func TestLoadMockAuthConfigRequiresPositiveTTLs(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("jwt_signing_key", "signing-secret")
	viper.Set("access_ttl", 0)
	viper.Set("refresh_ttl", time.Hour)
	if _, err := LoadMockAuthConfig(); err == nil || err.Error() != "config.invalid_access_ttl: access_ttl must be greater than zero" {
		t.Fatalf("expected access ttl error, got %v", err)
	}

	viper.Set("access_ttl", time.Minute)
	viper.Set("refresh_ttl", 0)
	if _, err := LoadMockAuthConfig(); err == nil || err.Error() != "config.invalid_refresh_ttl: refresh_ttl must be greater than zero" {
		t.Fatalf("expected refresh ttl error, got %v", err)
	}
}

func TestLoadMockAuthConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("jwt_signing_key", "signing-secret")
	viper.Set("access_ttl", time.Minute)
	viper.Set("refresh_ttl", time.Hour)
	viper.Set("seed_users", []string{"manager:s3cret:Night Manager:admin|staff"})

	mockConfig, err := LoadMockAuthConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if mockConfig.Issuer != "frontdesk-mockauth" || mockConfig.ListenAddr != ":8081" {
		t.Fatalf("unexpected defaults %+v", mockConfig)
	}
	if len(mockConfig.SeedUsers) != 1 || mockConfig.SeedUsers[0].DisplayName != "Night Manager" {
		t.Fatalf("unexpected seed users %+v", mockConfig.SeedUsers)
	}
}

func TestParseSeedUsers(t *testing.T) {
	seedUsers, err := parseSeedUsers([]string{"", "clerk:pw", " manager : s3cret : Night Manager : admin| staff |"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seedUsers) != 2 {
		t.Fatalf("expected two seed users, got %d", len(seedUsers))
	}
	if seedUsers[0].Username != "clerk" || seedUsers[0].Password != "pw" || len(seedUsers[0].Roles) != 0 {
		t.Fatalf("unexpected first seed user %+v", seedUsers[0])
	}
	manager := seedUsers[1]
	if manager.Username != "manager" || manager.Password != " s3cret " || manager.DisplayName != "Night Manager" {
		t.Fatalf("unexpected second seed user %+v", manager)
	}
	if strings.Join(manager.Roles, ",") != "admin,staff" {
		t.Fatalf("unexpected roles %v", manager.Roles)
	}

	for _, invalid := range []string{"nopassword", ":pw", "user:"} {
		if _, err := parseSeedUsers([]string{invalid}); err == nil || !strings.HasPrefix(err.Error(), configCodeInvalidSeedUser+":") {
			t.Fatalf("expected invalid seed user error for %q, got %v", invalid, err)
		}
	}
}

func TestRunServeSuccess(t *testing.T) {
	testCases := []struct {
		name       string
		sessionURL func(t *testing.T) string
	}{
		{name: "default memory storage", sessionURL: func(t *testing.T) string { return "" }},
		{name: "sqlite storage", sessionURL: func(t *testing.T) string {
			return "sqlite://" + filepath.Join(t.TempDir(), "session.db")
		}},
		{name: "file storage", sessionURL: func(t *testing.T) string {
			return "file://" + filepath.Join(t.TempDir(), "session.json")
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			viper.Reset()
			defer viper.Reset()

			restoreServe := withServeHTTPStub(func(server *http.Server) error {
				if server.Handler == nil {
					t.Fatalf("expected handler to be configured")
				}
				return http.ErrServerClosed
			})
			defer restoreServe()

			viper.Set("listen_addr", ":0")
			viper.Set("auth_base_url", "http://localhost:8081")
			viper.Set("auth_timeout", time.Second)
			viper.Set("logout_timeout", time.Second)
			viper.Set("session_url", testCase.sessionURL(t))
			viper.Set("cors_allowed_origins", []string{"http://localhost:3000"})

			serveConfig, err := LoadServeConfig()
			if err != nil {
				t.Fatalf("expected configuration load to succeed, got %v", err)
			}

			command := &cobra.Command{}
			command.SetContext(context.WithValue(context.Background(), serveConfigContextKey, serveConfig))

			if err := runServe(command, nil); err != nil {
				t.Fatalf("expected runServe to succeed, got %v", err)
			}
		})
	}
}

func TestRunServeRejectsUnsupportedSessionStorage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		t.Fatalf("server must not start without session storage")
		return nil
	})
	defer restoreServe()

	viper.Set("auth_base_url", "http://localhost:8081")
	viper.Set("auth_timeout", time.Second)
	viper.Set("logout_timeout", time.Second)
	viper.Set("session_url", "mysql://db/session")

	serveConfig, err := LoadServeConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serveConfigContextKey, serveConfig))

	if err := runServe(command, nil); err == nil {
		t.Fatalf("expected unsupported storage error")
	}
}

func TestOpenSessionStorageSchemes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	memoryStorage, closeMemory, err := openSessionStorage(ctx, "", "memory://", logger)
	if err != nil {
		t.Fatalf("memory storage: %v", err)
	}
	defer closeMemory()
	if _, ok := memoryStorage.(*session.MemoryStorage); !ok {
		t.Fatalf("expected memory storage, got %T", memoryStorage)
	}

	filePath := filepath.Join(t.TempDir(), "nested", "session.json")
	fileStorage, closeFile, err := openSessionStorage(ctx, "file://"+filePath, "memory://", logger)
	if err != nil {
		t.Fatalf("file storage: %v", err)
	}
	defer closeFile()
	typedFileStorage, ok := fileStorage.(*session.FileStorage)
	if !ok {
		t.Fatalf("expected file storage, got %T", fileStorage)
	}
	if typedFileStorage.Path() != filePath {
		t.Fatalf("expected path %q, got %q", filePath, typedFileStorage.Path())
	}

	databaseStorage, closeDatabase, err := openSessionStorage(ctx, "sqlite://"+filepath.Join(t.TempDir(), "session.db"), "memory://", logger)
	if err != nil {
		t.Fatalf("database storage: %v", err)
	}
	defer closeDatabase()
	if typed, ok := databaseStorage.(*session.DatabaseStorage); !ok || typed.Driver() != "sqlite" {
		t.Fatalf("expected sqlite database storage, got %T", databaseStorage)
	}

	if _, _, err := openSessionStorage(ctx, "redis://cache", "memory://", logger); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestRunMockAuthMissingConfig(t *testing.T) {
	err := runMockAuth(&cobra.Command{}, nil)
	expectedMessage := "config.uninitialized_serve_config: mockauth configuration not prepared; PreRunE must execute before RunE"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func TestRunMockAuthSuccess(t *testing.T) {
	testCases := []struct {
		name            string
		refreshStoreURL func(t *testing.T) string
	}{
		{name: "memory refresh store", refreshStoreURL: func(t *testing.T) string { return "" }},
		{name: "sqlite refresh store", refreshStoreURL: func(t *testing.T) string {
			return "sqlite://" + filepath.Join(t.TempDir(), "refresh.db")
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			viper.Reset()
			defer viper.Reset()

			restoreServe := withServeHTTPStub(func(server *http.Server) error {
				recorder := httptest.NewRecorder()
				request := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"manager","password":"s3cret"}`))
				request.Header.Set("Content-Type", "application/json")
				server.Handler.ServeHTTP(recorder, request)
				if recorder.Code != http.StatusOK {
					t.Fatalf("expected seeded login to succeed, got %d: %s", recorder.Code, recorder.Body.String())
				}
				return http.ErrServerClosed
			})
			defer restoreServe()

			viper.Set("jwt_signing_key", "signing-secret")
			viper.Set("access_ttl", time.Minute)
			viper.Set("refresh_ttl", time.Hour)
			viper.Set("dev_insecure_http", true)
			viper.Set("seed_users", []string{"manager:s3cret:Night Manager:admin"})
			viper.Set("refresh_store_url", testCase.refreshStoreURL(t))

			mockConfig, err := LoadMockAuthConfig()
			if err != nil {
				t.Fatalf("expected configuration load to succeed, got %v", err)
			}
			command := &cobra.Command{}
			command.SetContext(context.WithValue(context.Background(), mockAuthConfigContextKey, mockConfig))

			if err := runMockAuth(command, nil); err != nil {
				t.Fatalf("expected runMockAuth to succeed, got %v", err)
			}
		})
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func TestAuthCommandsLifecycle(t *testing.T) {
	authURL := newMockAuthServer(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	pterm.DisableOutput()
	defer pterm.EnableOutput()

	var prompted []string
	restorePrompt := withPromptStub(func(label string, masked bool) (string, error) {
		prompted = append(prompted, label)
		if !masked {
			t.Fatalf("password prompt must be masked")
		}
		return "s3cret", nil
	})
	defer restorePrompt()

	if err := executeAuthCommand(t, authURL, sessionPath, "login", "--username", "manager"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(prompted) != 1 || prompted[0] != "Password" {
		t.Fatalf("expected a single password prompt, got %v", prompted)
	}
	if value := storedValue(t, sessionPath, session.AccessTokenKey); value == "" {
		t.Fatalf("expected access token to be stored after login")
	}

	if err := executeAuthCommand(t, authURL, sessionPath, "status"); err != nil {
		t.Fatalf("status: %v", err)
	}

	if err := executeAuthCommand(t, authURL, sessionPath, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if value := storedValue(t, sessionPath, session.AccessTokenKey); value != "" {
		t.Fatalf("expected access token to be removed after logout, got %q", value)
	}
	if err := executeAuthCommand(t, authURL, sessionPath, "status"); err != nil {
		t.Fatalf("status after logout: %v", err)
	}
}

func TestAuthLoginRejectsBadPassword(t *testing.T) {
	authURL := newMockAuthServer(t)
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	pterm.DisableOutput()
	defer pterm.EnableOutput()

	err := executeAuthCommand(t, authURL, sessionPath, "login", "--username", "manager", "--password", "wrong")
	if err == nil {
		t.Fatalf("expected login failure")
	}
	if value := storedValue(t, sessionPath, session.AccessTokenKey); value != "" {
		t.Fatalf("expected no stored session after failed login")
	}
}

func newMockAuthServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := mockauth.NewInMemoryUsers(mockauth.WithBcryptCost(bcrypt.MinCost))
	if _, err := users.Seed(mockauth.Registration{Username: "manager", Password: "s3cret", DisplayName: "Night Manager"}, "admin"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	service, err := mockauth.NewService(mockauth.ServerConfig{
		SigningKey:        []byte("cli-test-key"),
		Issuer:            "frontdesk-mock",
		AllowInsecureHTTP: true,
	}, users, mockauth.NewMemoryRefreshTokenStore(), mockauth.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("mock service: %v", err)
	}
	router := gin.New()
	service.Mount(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server.URL
}

func executeAuthCommand(t *testing.T, authURL string, sessionPath string, arguments ...string) error {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := newRootCommand()
	cmd.SetArgs(append([]string{
		"auth",
		"--auth_base_url", authURL,
		"--session_url", "file://" + sessionPath,
		"--auth_timeout", "2s",
	}, arguments...))
	return cmd.Execute()
}

func storedValue(t *testing.T, sessionPath string, key string) string {
	t.Helper()
	fileStorage, err := session.NewFileStorage(sessionPath)
	if err != nil {
		t.Fatalf("open session file: %v", err)
	}
	value, found, err := fileStorage.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if !found {
		return ""
	}
	return value
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

func withPromptStub(stub func(label string, masked bool) (string, error)) func() {
	previous := promptInput
	promptInput = stub
	return func() {
		promptInput = previous
	}
}
