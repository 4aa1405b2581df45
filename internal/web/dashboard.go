package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/frontdesk/internal/authclient"
	"github.com/tyemirov/frontdesk/internal/controller"
	"github.com/tyemirov/frontdesk/internal/guard"
	"github.com/tyemirov/frontdesk/internal/session"
	webassets "github.com/tyemirov/frontdesk/web"
	"go.uber.org/zap"
)

const (
	defaultNonceTTL    = 10 * time.Minute
	apiPrefix          = "/api"
	messageFormExpired = "Your sign-in form expired. Please try again."
	messageLoginBusy   = "A sign-in is already in progress. Please wait."
)

// SessionController is the part of the session controller the dashboard drives.
type SessionController interface {
	guard.SessionReader
	Login(ctx context.Context, username string, password string, redirectTarget string) (string, error)
	Logout(ctx context.Context) string
	RefreshProfile(ctx context.Context) (*session.Profile, error)
	CurrentUser() *session.Profile
	Loading() bool
	Error() string
	ProfileVerified() bool
}

// Config configures the dashboard routes.
type Config struct {
	LoginPath          string
	DefaultDestination string
	NonceTTL           time.Duration
	AllowedOrigins     []string
}

// Dashboard serves the login screen, the guarded pages and the JSON session API.
type Dashboard struct {
	controller SessionController
	nonces     NonceStore
	templates  *template.Template
	config     Config
	logger     *zap.Logger
}

// SessionView is the JSON shape of the session exposed to UI consumers.
type SessionView struct {
	CurrentUser     *session.Profile `json:"currentUser"`
	Loading         bool             `json:"loading"`
	LoadingState    string           `json:"loadingState"`
	Error           string           `json:"error"`
	IsAuthenticated bool             `json:"isAuthenticated"`
	ProfileVerified bool             `json:"profileVerified"`
}

type loginPage struct {
	Title     string
	Error     string
	Nonce     string
	Redirect  string
	Username  string
	LoginPath string
}

type dashboardPage struct {
	Title    string
	User     *session.Profile
	Verified bool
}

// NewDashboard parses the embedded templates and validates configuration.
func NewDashboard(sessionController SessionController, configuration Config, logger *zap.Logger) (*Dashboard, error) {
	if sessionController == nil {
		return nil, errors.New("web.dashboard.new: session controller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	configuration.LoginPath = guard.ResolveDestination(configuration.LoginPath, "/login")
	configuration.DefaultDestination = guard.ResolveDestination(configuration.DefaultDestination, "/dashboard")
	if configuration.NonceTTL <= 0 {
		configuration.NonceTTL = defaultNonceTTL
	}
	templates, err := template.ParseFS(webassets.FS, webassets.TemplatePattern)
	if err != nil {
		return nil, fmt.Errorf("web.dashboard.templates: %w", err)
	}
	return &Dashboard{
		controller: sessionController,
		nonces:     NewMemoryNonceStore(configuration.NonceTTL),
		templates:  templates,
		config:     configuration,
		logger:     logger,
	}, nil
}

// Mount registers every dashboard route on router.
func (dashboard *Dashboard) Mount(router *gin.Engine) error {
	if len(dashboard.config.AllowedOrigins) > 0 {
		corsMiddleware, err := ConfigureCORS(dashboard.logger, dashboard.config.AllowedOrigins)
		if err != nil {
			return fmt.Errorf("web.dashboard.cors: %w", err)
		}
		router.Use(corsMiddleware)
	}
	router.SetHTMLTemplate(dashboard.templates)

	router.GET("/", func(contextGin *gin.Context) {
		contextGin.Redirect(http.StatusSeeOther, dashboard.config.DefaultDestination)
	})
	router.GET("/assets/*asset", func(contextGin *gin.Context) {
		assetPath := path.Join("assets", contextGin.Param("asset"))
		if !strings.HasPrefix(assetPath, "assets/") {
			contextGin.AbortWithStatus(http.StatusNotFound)
			return
		}
		ServeEmbeddedAsset(contextGin, webassets.FS, assetPath)
	})
	router.GET(dashboard.config.LoginPath, dashboard.handleLoginPage)
	router.POST(dashboard.config.LoginPath, dashboard.handleLoginForm)
	router.POST("/logout", dashboard.handleLogoutForm)

	router.GET(apiPrefix+"/session", dashboard.handleSessionView)
	router.POST(apiPrefix+"/session", dashboard.handleSessionLogin)
	router.DELETE(apiPrefix+"/session", dashboard.handleSessionLogout)

	guarded := router.Group("", guard.RequireSession(dashboard.controller, guard.MiddlewareConfig{
		LoginPath: dashboard.config.LoginPath,
		APIPrefix: apiPrefix,
	}, dashboard.logger))
	guarded.GET(dashboard.config.DefaultDestination, dashboard.handleDashboard)
	guarded.GET(apiPrefix+"/me", dashboard.handleMe)
	return nil
}

func (dashboard *Dashboard) handleLoginPage(contextGin *gin.Context) {
	redirectTarget := guard.ResolveDestination(contextGin.Query(guard.RedirectParameter), "")
	if dashboard.controller.LoadingState() != session.Initializing && dashboard.controller.IsAuthenticated() {
		contextGin.Redirect(http.StatusSeeOther, guard.ResolveDestination(redirectTarget, dashboard.config.DefaultDestination))
		return
	}
	dashboard.renderLogin(contextGin, http.StatusOK, dashboard.controller.Error(), redirectTarget, "")
}

func (dashboard *Dashboard) handleLoginForm(contextGin *gin.Context) {
	username := strings.TrimSpace(contextGin.PostForm("username"))
	password := contextGin.PostForm("password")
	redirectTarget := guard.ResolveDestination(contextGin.PostForm(guard.RedirectParameter), "")

	if err := dashboard.nonces.Consume(contextGin.Request.Context(), contextGin.PostForm("nonce")); err != nil {
		dashboard.logger.Info("login form refused",
			zap.String("code", "web.login.nonce_rejected"),
			zap.Error(err))
		dashboard.renderLogin(contextGin, http.StatusBadRequest, messageFormExpired, redirectTarget, username)
		return
	}

	destination, err := dashboard.controller.Login(contextGin.Request.Context(), username, password, redirectTarget)
	if err != nil {
		status, message := dashboard.loginFailure(err)
		dashboard.renderLogin(contextGin, status, message, redirectTarget, username)
		return
	}
	contextGin.Redirect(http.StatusSeeOther, destination)
}

func (dashboard *Dashboard) handleLogoutForm(contextGin *gin.Context) {
	loginPath := dashboard.controller.Logout(contextGin.Request.Context())
	contextGin.Redirect(http.StatusSeeOther, loginPath)
}

func (dashboard *Dashboard) handleDashboard(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "dashboard.tmpl", dashboardPage{
		Title:    "Dashboard",
		User:     dashboard.controller.CurrentUser(),
		Verified: dashboard.controller.ProfileVerified(),
	})
}

func (dashboard *Dashboard) handleSessionView(contextGin *gin.Context) {
	contextGin.Header("Cache-Control", "no-store")
	contextGin.JSON(http.StatusOK, dashboard.sessionView())
}

func (dashboard *Dashboard) handleSessionLogin(contextGin *gin.Context) {
	var inbound struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Redirect string `json:"redirect"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	destination, err := dashboard.controller.Login(contextGin.Request.Context(), strings.TrimSpace(inbound.Username), inbound.Password, inbound.Redirect)
	if err != nil {
		status, message := dashboard.loginFailure(err)
		contextGin.AbortWithStatusJSON(status, gin.H{"error": message, "session": dashboard.sessionView()})
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{"destination": destination, "session": dashboard.sessionView()})
}

func (dashboard *Dashboard) handleSessionLogout(contextGin *gin.Context) {
	loginPath := dashboard.controller.Logout(contextGin.Request.Context())
	contextGin.JSON(http.StatusOK, gin.H{"destination": loginPath, "session": dashboard.sessionView()})
}

func (dashboard *Dashboard) handleMe(contextGin *gin.Context) {
	profile, err := dashboard.controller.RefreshProfile(contextGin.Request.Context())
	switch {
	case err == nil:
		contextGin.JSON(http.StatusOK, gin.H{"account": profile, "verified": true})
	case authclient.ForcesLogout(err):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "session_expired",
			"login": guard.LoginURL(dashboard.config.LoginPath, dashboard.config.DefaultDestination),
		})
	default:
		dashboard.logger.Info("profile refresh failed; serving cached profile",
			zap.String("code", "web.me.cached"),
			zap.Error(err))
		contextGin.JSON(http.StatusOK, gin.H{"account": dashboard.controller.CurrentUser(), "verified": false})
	}
}

func (dashboard *Dashboard) sessionView() SessionView {
	return SessionView{
		CurrentUser:     dashboard.controller.CurrentUser(),
		Loading:         dashboard.controller.Loading(),
		LoadingState:    dashboard.controller.LoadingState().String(),
		Error:           dashboard.controller.Error(),
		IsAuthenticated: dashboard.controller.IsAuthenticated(),
		ProfileVerified: dashboard.controller.ProfileVerified(),
	}
}

func (dashboard *Dashboard) loginFailure(err error) (int, string) {
	message := dashboard.controller.Error()
	switch {
	case errors.Is(err, authclient.ErrInvalidCredentials):
		return http.StatusUnauthorized, message
	case errors.Is(err, controller.ErrLoginInProgress):
		return http.StatusConflict, messageLoginBusy
	case errors.Is(err, controller.ErrNotReady):
		return http.StatusServiceUnavailable, messageLoginBusy
	case errors.Is(err, authclient.ErrSessionSuperseded):
		return http.StatusConflict, controller.MessageLoginFailed
	case authclient.IsTransient(err):
		return http.StatusBadGateway, message
	default:
		dashboard.logger.Error("login failed unexpectedly",
			zap.String("code", "web.login.unexpected"),
			zap.Error(err))
		if message == "" {
			message = controller.MessageLoginFailed
		}
		return http.StatusInternalServerError, message
	}
}

func (dashboard *Dashboard) renderLogin(contextGin *gin.Context, status int, message string, redirectTarget string, username string) {
	nonce, err := dashboard.nonces.Issue(contextGin.Request.Context())
	if err != nil {
		dashboard.logger.Error("nonce issue failed", zap.String("code", "web.login.nonce_issue"), zap.Error(err))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.Header("Cache-Control", "no-store")
	contextGin.HTML(status, "login.tmpl", loginPage{
		Title:     "Sign in",
		Error:     message,
		Nonce:     nonce,
		Redirect:  redirectTarget,
		Username:  username,
		LoginPath: dashboard.config.LoginPath,
	})
}

// ServeEmbeddedAsset writes one embedded static file with cache headers.
func ServeEmbeddedAsset(contextGin *gin.Context, filesystem fs.FS, assetPath string) {
	data, err := fs.ReadFile(filesystem, assetPath)
	if err != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contentType := "application/octet-stream"
	switch path.Ext(assetPath) {
	case ".css":
		contentType = "text/css; charset=utf-8"
	case ".js":
		contentType = "application/javascript; charset=utf-8"
	}
	contextGin.Header("Cache-Control", "public, max-age=86400")
	contextGin.Data(http.StatusOK, contentType, data)
}
