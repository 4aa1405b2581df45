package authclient

import "errors"

var (
	// ErrInvalidCredentials indicates the auth service rejected the username or password.
	ErrInvalidCredentials = errors.New("auth_client.invalid_credentials")
	// ErrInvalidRefreshToken indicates the refresh token is expired, revoked or unknown.
	ErrInvalidRefreshToken = errors.New("auth_client.invalid_refresh_token")
	// ErrUnauthorized indicates a protected call was refused for the presented access token.
	ErrUnauthorized = errors.New("auth_client.unauthorized")
	// ErrNetwork indicates the exchange failed before a response arrived, including timeouts.
	ErrNetwork = errors.New("auth_client.network")
	// ErrServer indicates the auth service failed or answered with an unusable response.
	ErrServer = errors.New("auth_client.server")
	// ErrSignupRejected indicates the auth service refused to create the account.
	ErrSignupRejected = errors.New("auth_client.signup_rejected")
	// ErrSessionExpired indicates the session could not be renewed and was torn down.
	ErrSessionExpired = errors.New("auth_client.session_expired")
	// ErrSessionSuperseded indicates a result arrived for a session that no longer exists.
	ErrSessionSuperseded = errors.New("auth_client.session_superseded")
)

// IsTransient reports whether retrying the same action may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer)
}

// ForcesLogout reports whether err means the session is no longer usable.
func ForcesLogout(err error) bool {
	return errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired)
}
