package guard

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultRetryAfter = time.Second

// MiddlewareConfig configures RequireSession.
type MiddlewareConfig struct {
	LoginPath  string
	APIPrefix  string
	RetryAfter time.Duration
}

// RequireSession guards the routes it is attached to. While the session is
// hydrating it answers 503 with Retry-After. Signed-out browser requests are
// sent to the login screen with 303; API requests get 401 JSON.
func RequireSession(reader SessionReader, configuration MiddlewareConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	loginPath := ResolveDestination(configuration.LoginPath, "/login")
	retryAfter := configuration.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	retrySeconds := strconv.Itoa(int((retryAfter + time.Second - 1) / time.Second))

	return func(contextGin *gin.Context) {
		outcome := Evaluate(reader, contextGin.Request.URL.RequestURI(), loginPath)
		switch outcome.Decision {
		case Render:
			contextGin.Next()
		case Loading:
			contextGin.Header("Retry-After", retrySeconds)
			if wantsJSON(contextGin.Request, configuration.APIPrefix) {
				contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session_loading"})
				return
			}
			contextGin.Header("Content-Type", "text/html; charset=utf-8")
			contextGin.AbortWithStatus(http.StatusServiceUnavailable)
			_, _ = contextGin.Writer.WriteString(loadingPlaceholder)
		default:
			logger.Debug("unauthenticated navigation redirected",
				zap.String("code", "guard.redirect"),
				zap.String("path", contextGin.Request.URL.Path))
			if wantsJSON(contextGin.Request, configuration.APIPrefix) {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "login": outcome.Location})
				return
			}
			contextGin.Redirect(http.StatusSeeOther, outcome.Location)
			contextGin.Abort()
		}
	}
}

func wantsJSON(request *http.Request, apiPrefix string) bool {
	if apiPrefix != "" && strings.HasPrefix(request.URL.Path, apiPrefix) {
		return true
	}
	return strings.Contains(request.Header.Get("Accept"), "application/json")
}

const loadingPlaceholder = `<!doctype html><html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head><body><p>Loading&hellip;</p></body></html>`
