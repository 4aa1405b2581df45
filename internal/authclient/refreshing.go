package authclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tyemirov/frontdesk/internal/session"
	"github.com/tyemirov/frontdesk/pkg/accesstoken"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultExpiryLeeway   = 15 * time.Second
	defaultRefreshTimeout = 10 * time.Second
)

// SessionBinding gives the refreshing decorator access to the live session.
// ApplyRefresh and SessionLost receive the refresh token the decision was based
// on so the owner can ignore results for a session that has since changed.
type SessionBinding interface {
	AccessToken() string
	RefreshToken() string
	ApplyRefresh(ctx context.Context, usedRefreshToken string, pair TokenPair) error
	SessionLost(ctx context.Context, usedRefreshToken string, cause error)
}

// ProtectedCall performs one request with the given access token. It must
// report a refused token as ErrUnauthorized.
type ProtectedCall func(ctx context.Context, accessToken string) error

// RefreshingTransport runs protected calls with one refresh-and-replay on
// ErrUnauthorized. A failed refresh or a second refusal ends the session.
type RefreshingTransport struct {
	inner   Transport
	binding SessionBinding
	logger  *zap.Logger
	clock   accesstoken.Clock
	leeway  time.Duration
	flights singleflight.Group

	refreshTimeout time.Duration
}

// RefreshingOption customises a RefreshingTransport.
type RefreshingOption func(*RefreshingTransport)

// WithRefreshLogger sets the logger.
func WithRefreshLogger(logger *zap.Logger) RefreshingOption {
	return func(transport *RefreshingTransport) {
		if logger != nil {
			transport.logger = logger
		}
	}
}

// WithRefreshClock injects the clock used for proactive expiry checks.
func WithRefreshClock(clock accesstoken.Clock) RefreshingOption {
	return func(transport *RefreshingTransport) {
		if clock != nil {
			transport.clock = clock
		}
	}
}

// WithExpiryLeeway refreshes JWT access tokens this long before they expire.
func WithExpiryLeeway(leeway time.Duration) RefreshingOption {
	return func(transport *RefreshingTransport) {
		if leeway >= 0 {
			transport.leeway = leeway
		}
	}
}

// WithRefreshTimeout bounds the shared refresh exchange.
func WithRefreshTimeout(timeout time.Duration) RefreshingOption {
	return func(transport *RefreshingTransport) {
		if timeout > 0 {
			transport.refreshTimeout = timeout
		}
	}
}

// NewRefreshingTransport decorates inner with the refresh policy.
func NewRefreshingTransport(inner Transport, binding SessionBinding, options ...RefreshingOption) *RefreshingTransport {
	if inner == nil || binding == nil {
		panic("refreshing transport requires a transport and a session binding")
	}
	transport := &RefreshingTransport{
		inner:   inner,
		binding: binding,
		logger:  zap.NewNop(),
		clock:   accesstoken.SystemClock(),
		leeway:  defaultExpiryLeeway,

		refreshTimeout: defaultRefreshTimeout,
	}
	for _, option := range options {
		option(transport)
	}
	return transport
}

// Do runs call with the current access token.
func (transport *RefreshingTransport) Do(ctx context.Context, call ProtectedCall) error {
	accessToken := transport.binding.AccessToken()
	if accessToken == "" {
		return fmt.Errorf("auth_client.protected.no_session: %w", ErrUnauthorized)
	}

	refreshed := false
	var sessionRefreshToken string
	if transport.expiring(accessToken) {
		renewed, err := transport.refresh(ctx)
		switch {
		case err == nil:
			accessToken = renewed.accessToken
			sessionRefreshToken = renewed.refreshToken
			refreshed = true
		case errors.Is(err, ErrSessionExpired):
			return err
		default:
			transport.logger.Debug("proactive refresh failed; using current token",
				zap.String("code", "auth_client.protected.proactive_refresh_failed"),
				zap.Error(err))
		}
	}

	err := call(ctx, accessToken)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if refreshed {
		return transport.loseSession(ctx, sessionRefreshToken, err)
	}

	renewed, refreshErr := transport.refresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	err = call(ctx, renewed.accessToken)
	if errors.Is(err, ErrUnauthorized) {
		return transport.loseSession(ctx, renewed.refreshToken, err)
	}
	return err
}

// FetchProfile loads the account of the current session.
func (transport *RefreshingTransport) FetchProfile(ctx context.Context) (*session.Profile, error) {
	var profile *session.Profile
	err := transport.Do(ctx, func(ctx context.Context, accessToken string) error {
		fetched, fetchErr := transport.inner.FetchProfile(ctx, accessToken)
		if fetchErr != nil {
			return fetchErr
		}
		profile = fetched
		return nil
	})
	return profile, err
}

// Refresh renews the access token and returns it. Concurrent refreshes of the
// same refresh token share one exchange, which runs detached from any single
// caller's cancellation and is bounded by the refresh timeout.
func (transport *RefreshingTransport) Refresh(ctx context.Context) (string, error) {
	renewed, err := transport.refresh(ctx)
	if err != nil {
		return "", err
	}
	return renewed.accessToken, nil
}

// refreshOutcome carries the renewed access token and the refresh token the
// session holds after the exchange.
type refreshOutcome struct {
	accessToken  string
	refreshToken string
}

func (transport *RefreshingTransport) refresh(ctx context.Context) (refreshOutcome, error) {
	refreshToken := transport.binding.RefreshToken()
	if refreshToken == "" {
		return refreshOutcome{}, fmt.Errorf("auth_client.refresh.no_session: %w", ErrSessionExpired)
	}
	flight := transport.flights.DoChan(refreshToken, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transport.refreshTimeout)
		defer cancel()
		return transport.exchange(flightCtx, refreshToken)
	})

	select {
	case <-ctx.Done():
		return refreshOutcome{}, fmt.Errorf("auth_client.refresh: %w: %w", ErrNetwork, ctx.Err())
	case result := <-flight:
		if result.Err != nil {
			return refreshOutcome{}, result.Err
		}
		if result.Shared {
			transport.logger.Debug("refresh shared with concurrent caller",
				zap.String("code", "auth_client.refresh.shared"))
		}
		return result.Val.(refreshOutcome), nil
	}
}

func (transport *RefreshingTransport) exchange(ctx context.Context, refreshToken string) (refreshOutcome, error) {
	pair, refreshErr := transport.inner.Refresh(ctx, refreshToken)
	if refreshErr != nil {
		if errors.Is(refreshErr, ErrInvalidRefreshToken) || errors.Is(refreshErr, ErrUnauthorized) {
			transport.logger.Warn("refresh token rejected; ending session",
				zap.String("code", "auth_client.refresh.rejected"),
				zap.Error(refreshErr))
			transport.binding.SessionLost(ctx, refreshToken, refreshErr)
			return refreshOutcome{}, fmt.Errorf("auth_client.refresh: %w: %w", ErrSessionExpired, refreshErr)
		}
		return refreshOutcome{}, refreshErr
	}
	if applyErr := transport.binding.ApplyRefresh(ctx, refreshToken, pair); applyErr != nil {
		return refreshOutcome{}, applyErr
	}
	transport.logger.Debug("access token refreshed",
		zap.String("code", "auth_client.refresh.success"),
		zap.Bool("rotated", pair.RefreshToken != ""))
	outcome := refreshOutcome{accessToken: pair.AccessToken, refreshToken: refreshToken}
	if pair.RefreshToken != "" {
		outcome.refreshToken = pair.RefreshToken
	}
	return outcome, nil
}

// loseSession ends the session that sessionRefreshToken belongs to. A session
// established since then is left alone.
func (transport *RefreshingTransport) loseSession(ctx context.Context, sessionRefreshToken string, cause error) error {
	transport.logger.Warn("access token refused after refresh; ending session",
		zap.String("code", "auth_client.protected.replay_refused"),
		zap.Error(cause))
	transport.binding.SessionLost(ctx, sessionRefreshToken, cause)
	return fmt.Errorf("auth_client.protected.replay: %w: %w", ErrSessionExpired, cause)
}

func (transport *RefreshingTransport) expiring(accessToken string) bool {
	claims, err := accesstoken.Inspect(accessToken)
	if err != nil {
		return false
	}
	return claims.ExpiresWithin(transport.clock.Now(), transport.leeway)
}
