package mockauth

import "context"

// Account is the public view of a registered user. Its JSON shape matches the
// profile object the session client caches.
type Account struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Registration carries the fields for a new account.
type Registration struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
}

// UserStore authenticates and registers application users.
type UserStore interface {
	Authenticate(ctx context.Context, username string, password string) (Account, error)
	Register(ctx context.Context, registration Registration) (Account, error)
	GetAccount(ctx context.Context, applicationUserID string) (Account, error)
}

// RefreshTokenStore manages long-lived refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (applicationUserID string, tokenID string, expiresUnix int64, err error)
	Revoke(ctx context.Context, tokenID string) error
}
