package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tyemirov/frontdesk/internal/session"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Paths of the auth service endpoints.
const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
	SignupPath  = "/auth/signup"
	ProfilePath = "/auth/profile"
)

const (
	defaultCallTimeout   = 10 * time.Second
	maxResponseBodyBytes = 1 << 20
)

var errEmptyBaseURL = errors.New("auth_client.empty_base_url")

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	Account      *session.Profile `json:"account"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type accountResponse struct {
	Account *session.Profile `json:"account"`
}

type logoutResponse struct {
	Message string `json:"message"`
}

// rejectionError carries a 4xx status until the operation maps it onto a kind.
type rejectionError struct {
	status int
}

func (rejection *rejectionError) Error() string {
	return fmt.Sprintf("auth_client.rejected.status_%d", rejection.status)
}

// HTTPTransport talks JSON over HTTP to the auth service.
type HTTPTransport struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// Option customises an HTTPTransport.
type Option func(*HTTPTransport)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(transport *HTTPTransport) {
		if client != nil {
			transport.httpClient = client
		}
	}
}

// WithTimeout bounds every call; an elapsed deadline surfaces as ErrNetwork.
func WithTimeout(timeout time.Duration) Option {
	return func(transport *HTTPTransport) {
		if timeout > 0 {
			transport.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(transport *HTTPTransport) {
		if logger != nil {
			transport.logger = logger
		}
	}
}

// NewHTTPTransport builds a transport rooted at baseURL.
func NewHTTPTransport(baseURL string, options ...Option) (*HTTPTransport, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("auth_client.new: %w", errEmptyBaseURL)
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("auth_client.new.parse_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("auth_client.new: unsupported scheme %q", parsed.Scheme)
	}
	transport := &HTTPTransport{
		baseURL:    parsed,
		httpClient: &http.Client{},
		timeout:    defaultCallTimeout,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(transport)
	}
	return transport, nil
}

// Login exchanges credentials for a token pair and profile.
func (transport *HTTPTransport) Login(ctx context.Context, username string, password string) (LoginResult, error) {
	var response loginResponse
	err := transport.send(ctx, "login", transport.httpClient, http.MethodPost, LoginPath, loginRequest{
		Username: username,
		Password: password,
	}, &response)
	if err != nil {
		return LoginResult{}, classifyRejection("login", err, ErrInvalidCredentials)
	}
	if strings.TrimSpace(response.AccessToken) == "" || strings.TrimSpace(response.RefreshToken) == "" {
		return LoginResult{}, fmt.Errorf("auth_client.login.missing_tokens: %w", ErrServer)
	}
	return LoginResult{
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		Profile:      response.Account,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (transport *HTTPTransport) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenPair{}, fmt.Errorf("auth_client.refresh.empty_token: %w", ErrInvalidRefreshToken)
	}
	var response refreshResponse
	err := transport.send(ctx, "refresh", transport.httpClient, http.MethodPost, RefreshPath, refreshRequest{
		RefreshToken: refreshToken,
	}, &response)
	if err != nil {
		return TokenPair{}, classifyRejection("refresh", err, ErrInvalidRefreshToken)
	}
	if strings.TrimSpace(response.AccessToken) == "" {
		return TokenPair{}, fmt.Errorf("auth_client.refresh.missing_access_token: %w", ErrServer)
	}
	return TokenPair{
		AccessToken:  response.AccessToken,
		RefreshToken: strings.TrimSpace(response.RefreshToken),
	}, nil
}

// FetchProfile loads the account for accessToken.
func (transport *HTTPTransport) FetchProfile(ctx context.Context, accessToken string) (*session.Profile, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("auth_client.profile.empty_token: %w", ErrUnauthorized)
	}
	var response accountResponse
	err := transport.send(ctx, "profile", transport.bearerClient(ctx, accessToken), http.MethodGet, ProfilePath, nil, &response)
	if err != nil {
		return nil, classifyRejection("profile", err, ErrUnauthorized)
	}
	if response.Account == nil {
		return nil, fmt.Errorf("auth_client.profile.missing_account: %w", ErrServer)
	}
	return response.Account, nil
}

// Logout asks the service to revoke refreshToken.
func (transport *HTTPTransport) Logout(ctx context.Context, refreshToken string) error {
	var response logoutResponse
	err := transport.send(ctx, "logout", transport.httpClient, http.MethodPost, LogoutPath, refreshRequest{
		RefreshToken: refreshToken,
	}, &response)
	if err != nil {
		return classifyRejection("logout", err, ErrInvalidRefreshToken)
	}
	transport.logger.Debug("logout acknowledged",
		zap.String("code", "auth_client.logout.ack"),
		zap.String("message", response.Message))
	return nil
}

// Signup creates an account. The result is passed through untouched.
func (transport *HTTPTransport) Signup(ctx context.Context, request SignupRequest) (*session.Profile, error) {
	var response accountResponse
	err := transport.send(ctx, "signup", transport.httpClient, http.MethodPost, SignupPath, request, &response)
	if err != nil {
		return nil, classifyRejection("signup", err, ErrSignupRejected)
	}
	if response.Account == nil {
		return nil, fmt.Errorf("auth_client.signup.missing_account: %w", ErrServer)
	}
	return response.Account, nil
}

func (transport *HTTPTransport) bearerClient(ctx context.Context, accessToken string) *http.Client {
	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, transport.httpClient), source)
}

func (transport *HTTPTransport) endpoint(path string) string {
	return transport.baseURL.JoinPath(path).String()
}

func (transport *HTTPTransport) send(ctx context.Context, operation string, client *http.Client, method string, path string, payload any, target any) error {
	ctx, cancel := context.WithTimeout(ctx, transport.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("auth_client.%s.encode: %w", operation, err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, transport.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("auth_client.%s.request: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	startTime := time.Now()
	response, err := client.Do(request)
	if err != nil {
		transport.logger.Warn("auth exchange failed",
			zap.String("code", "auth_client."+operation+".network"),
			zap.Duration("elapsed", time.Since(startTime)),
			zap.Error(err))
		return fmt.Errorf("auth_client.%s: %w: %w", operation, ErrNetwork, err)
	}
	defer func() { _ = response.Body.Close() }()

	transport.logger.Debug("auth exchange",
		zap.String("code", "auth_client."+operation),
		zap.Int("status", response.StatusCode),
		zap.Duration("elapsed", time.Since(startTime)))

	switch {
	case response.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))
		return fmt.Errorf("auth_client.%s.status_%d: %w", operation, response.StatusCode, ErrServer)
	case response.StatusCode >= http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))
		return &rejectionError{status: response.StatusCode}
	case response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("auth_client.%s.status_%d: %w", operation, response.StatusCode, ErrServer)
	}

	if target == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, maxResponseBodyBytes)).Decode(target); err != nil {
		if errors.Is(err, io.EOF) && operation == "logout" {
			return nil
		}
		return fmt.Errorf("auth_client.%s.decode: %w: %w", operation, ErrServer, err)
	}
	return nil
}

// classifyRejection maps credential-shaped 4xx answers onto kind and every other
// rejection onto ErrServer.
func classifyRejection(operation string, err error, kind error) error {
	var rejection *rejectionError
	if !errors.As(err, &rejection) {
		return err
	}
	switch rejection.status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("auth_client.%s.status_%d: %w", operation, rejection.status, kind)
	default:
		return fmt.Errorf("auth_client.%s.status_%d: %w", operation, rejection.status, ErrServer)
	}
}
