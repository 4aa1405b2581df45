package mockauth

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/frontdesk/pkg/accesstoken"
	"go.uber.org/zap"
)

const claimsContextKey = "mockauth_claims"

// Service implements the auth boundary consumed by the session client.
type Service struct {
	configuration ServerConfig
	users         UserStore
	refreshTokens RefreshTokenStore
	validator     *accesstoken.Validator
	metrics       MetricsRecorder
	logger        *zap.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithMetrics records auth events into recorder.
func WithMetrics(recorder MetricsRecorder) ServiceOption {
	return func(service *Service) {
		if recorder != nil {
			service.metrics = recorder
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// NewService validates configuration and wires the stores.
func NewService(configuration ServerConfig, users UserStore, refreshTokens RefreshTokenStore, options ...ServiceOption) (*Service, error) {
	normalized, err := configuration.normalized()
	if err != nil {
		return nil, err
	}
	if users == nil || refreshTokens == nil {
		return nil, errors.New("mockauth.new_service: stores are required")
	}
	validator, err := accesstoken.New(accesstoken.Config{
		SigningKey: normalized.SigningKey,
		Issuer:     normalized.Issuer,
		Clock:      normalized.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("mockauth.new_service: %w", err)
	}
	service := &Service{
		configuration: normalized,
		users:         users,
		refreshTokens: refreshTokens,
		validator:     validator,
		metrics:       discardMetrics{},
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		option(service)
	}
	return service, nil
}

// Validator exposes the access token validator used by the profile route.
func (service *Service) Validator() *accesstoken.Validator {
	return service.validator
}

// Mount registers /auth/login, /auth/refresh, /auth/logout, /auth/signup and /auth/profile.
func (service *Service) Mount(router gin.IRouter) {
	authGroup := router.Group("/auth")
	authGroup.Use(service.requireTransportSecurity())
	authGroup.POST("/login", service.handleLogin)
	authGroup.POST("/refresh", service.handleRefresh)
	authGroup.POST("/logout", service.handleLogout)
	authGroup.POST("/signup", service.handleSignup)
	authGroup.GET("/profile", service.validator.GinMiddleware(claimsContextKey), service.handleProfile)
}

// MountMetrics exposes recorder counters at GET /auth/metrics.
func MountMetrics(router gin.IRouter, recorder *CounterMetrics) {
	router.GET("/auth/metrics", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"counters": recorder.Snapshot()})
	})
}

func (service *Service) handleLogin(contextGin *gin.Context) {
	var inbound struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Username) == "" || inbound.Password == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	account, err := service.users.Authenticate(contextGin.Request.Context(), inbound.Username, inbound.Password)
	if err != nil {
		service.metrics.Increment(EventLoginFailure)
		service.logger.Info("login rejected", zap.String("code", "mockauth.login.rejected"), zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	accessToken, refreshToken, ok := service.issuePair(contextGin, account, "")
	if !ok {
		return
	}
	service.metrics.Increment(EventLoginSuccess)
	contextGin.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"account":      account,
	})
}

func (service *Service) handleRefresh(contextGin *gin.Context) {
	var inbound struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
		service.metrics.Increment(EventRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	requestContext := contextGin.Request.Context()
	applicationUserID, currentTokenID, _, validateErr := service.refreshTokens.Validate(requestContext, inbound.RefreshToken)
	if validateErr != nil {
		service.metrics.Increment(EventRefreshFailure)
		service.logger.Info("refresh rejected", zap.String("code", "mockauth.refresh.rejected"), zap.Error(validateErr))
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	account, accountErr := service.users.GetAccount(requestContext, applicationUserID)
	if accountErr != nil {
		service.metrics.Increment(EventRefreshFailure)
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}
	accessToken, refreshToken, ok := service.issuePair(contextGin, account, currentTokenID)
	if !ok {
		return
	}
	if revokeErr := service.refreshTokens.Revoke(requestContext, currentTokenID); revokeErr != nil {
		service.logger.Error("refresh revoke failed", zap.String("code", "mockauth.refresh.revoke"), zap.Error(revokeErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	service.metrics.Increment(EventRefreshSuccess)
	contextGin.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

func (service *Service) handleLogout(contextGin *gin.Context) {
	var inbound struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = contextGin.ShouldBindJSON(&inbound)
	if strings.TrimSpace(inbound.RefreshToken) != "" {
		requestContext := contextGin.Request.Context()
		_, tokenID, _, validateErr := service.refreshTokens.Validate(requestContext, inbound.RefreshToken)
		if validateErr == nil && tokenID != "" {
			_ = service.refreshTokens.Revoke(requestContext, tokenID)
		}
	}
	service.metrics.Increment(EventLogout)
	contextGin.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (service *Service) handleSignup(contextGin *gin.Context) {
	var registration Registration
	if err := contextGin.ShouldBindJSON(&registration); err != nil {
		service.metrics.Increment(EventSignupFailure)
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	account, err := service.users.Register(contextGin.Request.Context(), registration)
	switch {
	case errors.Is(err, ErrUserExists):
		service.metrics.Increment(EventSignupFailure)
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "username_taken"})
		return
	case errors.Is(err, ErrInvalidRegistration):
		service.metrics.Increment(EventSignupFailure)
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_registration"})
		return
	case err != nil:
		service.metrics.Increment(EventSignupFailure)
		service.logger.Error("signup failed", zap.String("code", "mockauth.signup.failure"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	service.metrics.Increment(EventSignupSuccess)
	contextGin.JSON(http.StatusCreated, gin.H{"account": account})
}

func (service *Service) handleProfile(contextGin *gin.Context) {
	claimsValue, _ := contextGin.Get(claimsContextKey)
	claims, ok := claimsValue.(*accesstoken.Claims)
	if !ok {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	account, err := service.users.GetAccount(contextGin.Request.Context(), claims.GetUserID())
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown_account"})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"account": account})
}

// issuePair mints an access token and a rotated refresh token. It writes the
// failure response itself and reports false when issuance failed.
func (service *Service) issuePair(contextGin *gin.Context, account Account, previousTokenID string) (string, string, bool) {
	accessToken, _, mintErr := MintAccessToken(service.configuration.Clock, account, service.configuration.Issuer, service.configuration.SigningKey, service.configuration.AccessTTL)
	if mintErr != nil {
		service.logger.Error("mint failed", zap.String("code", "mockauth.mint.failure"), zap.Error(mintErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return "", "", false
	}
	refreshExpiry := service.configuration.Clock.Now().UTC().Add(service.configuration.RefreshTTL).Unix()
	_, refreshOpaque, issueErr := service.refreshTokens.Issue(contextGin.Request.Context(), account.ID, refreshExpiry, previousTokenID)
	if issueErr != nil || strings.TrimSpace(refreshOpaque) == "" {
		service.logger.Error("refresh issue failed", zap.String("code", "mockauth.refresh.issue"), zap.Error(issueErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return "", "", false
	}
	return accessToken, refreshOpaque, true
}

func (service *Service) requireTransportSecurity() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if !service.configuration.AllowInsecureHTTP && !isHTTPS(contextGin.Request) {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "https_required"})
			return
		}
		contextGin.Next()
	}
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	if strings.EqualFold(request.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr != nil {
		host = request.Host
	}
	return host == "localhost" || host == "127.0.0.1"
}
