package authclient

import (
	"context"

	"github.com/tyemirov/frontdesk/internal/session"
)

// LoginResult is the outcome of a successful credential exchange.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Profile      *session.Profile
}

// TokenPair is the outcome of a refresh. RefreshToken is empty when the service
// did not rotate it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SignupRequest carries the fields for account creation.
type SignupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"name"`
	Email       string `json:"email,omitempty"`
}

// Transport exchanges credentials and tokens with the auth service. It keeps no
// local state.
type Transport interface {
	Login(ctx context.Context, username string, password string) (LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	FetchProfile(ctx context.Context, accessToken string) (*session.Profile, error)
	Logout(ctx context.Context, refreshToken string) error
	Signup(ctx context.Context, request SignupRequest) (*session.Profile, error)
}
