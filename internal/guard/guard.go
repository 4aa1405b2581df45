package guard

import (
	"net/url"
	"strings"

	"github.com/tyemirov/frontdesk/internal/session"
)

// RedirectParameter carries the originally requested path through the login screen.
const RedirectParameter = "redirect"

// Decision is the outcome of evaluating a protected navigation.
type Decision int

const (
	// Loading means hydration has not finished; show a neutral placeholder.
	Loading Decision = iota
	// Render means the destination may be shown.
	Render
	// Redirect means the caller must go to the login screen first.
	Redirect
)

func (decision Decision) String() string {
	switch decision {
	case Loading:
		return "loading"
	case Render:
		return "render"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// SessionReader is the read-only view of the session the guard needs.
type SessionReader interface {
	LoadingState() session.LoadingState
	IsAuthenticated() bool
}

// Outcome describes what to do with a navigation. Location is set only for Redirect.
type Outcome struct {
	Decision Decision
	Location string
}

// Evaluate decides a single navigation to requestedPath. It reads the session
// every time it is called.
func Evaluate(reader SessionReader, requestedPath string, loginPath string) Outcome {
	if reader.LoadingState() == session.Initializing {
		return Outcome{Decision: Loading}
	}
	if reader.IsAuthenticated() {
		return Outcome{Decision: Render}
	}
	return Outcome{Decision: Redirect, Location: LoginURL(loginPath, requestedPath)}
}

// LoginURL builds the login location carrying requestedPath as the redirect parameter.
func LoginURL(loginPath string, requestedPath string) string {
	target := ResolveDestination(requestedPath, "")
	if target == "" || target == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{RedirectParameter: []string{target}}.Encode()
}

// ResolveDestination returns candidate when it is a local absolute path and
// fallback otherwise. Scheme-relative, absolute and backslash forms are refused
// so a crafted redirect parameter cannot leave the site.
func ResolveDestination(candidate string, fallback string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return fallback
	}
	if strings.HasPrefix(trimmed, "//") || strings.ContainsAny(trimmed, "\\\r\n\t") {
		return fallback
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.IsAbs() || parsed.Host != "" {
		return fallback
	}
	return trimmed
}
