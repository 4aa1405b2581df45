package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tyemirov/frontdesk/internal/authclient"
	"github.com/tyemirov/frontdesk/internal/guard"
	"github.com/tyemirov/frontdesk/internal/session"
	"go.uber.org/zap"
)

const (
	defaultDestination   = "/dashboard"
	defaultLoginPath     = "/login"
	defaultLogoutTimeout = 5 * time.Second
)

// User-facing failure messages.
const (
	MessageInvalidCredentials = "Login failed: invalid username or password."
	MessageLoginFailed        = "Login failed: the sign-in service could not be reached. Please try again."
	MessageSessionExpired     = "Your session has expired. Please sign in again."
)

var (
	// ErrNotReady indicates Start has not hydrated the session yet.
	ErrNotReady = errors.New("controller.not_ready")
	// ErrLoginInProgress indicates another login has not resolved yet.
	ErrLoginInProgress = errors.New("controller.login_in_progress")
)

// Controller owns the session lifecycle. It is the only writer of its Store;
// everything else reads through it.
type Controller struct {
	store     *session.Store
	transport authclient.Transport
	protected *authclient.RefreshingTransport
	logger    *zap.Logger

	defaultDestination string
	loginPath          string
	logoutTimeout      time.Duration
	refreshOptions     []authclient.RefreshingOption

	mutex         sync.Mutex
	started       bool
	state         session.LoadingState
	inFlight      int
	loginInFlight bool
	lastError     string
	epoch         uint64
	verified      bool
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(controller *Controller) {
		if logger != nil {
			controller.logger = logger
		}
	}
}

// WithDefaultDestination sets where a login lands without a redirect target.
func WithDefaultDestination(destination string) Option {
	return func(controller *Controller) {
		if resolved := guard.ResolveDestination(destination, ""); resolved != "" {
			controller.defaultDestination = resolved
		}
	}
}

// WithLoginPath sets the path Logout navigates to.
func WithLoginPath(loginPath string) Option {
	return func(controller *Controller) {
		if resolved := guard.ResolveDestination(loginPath, ""); resolved != "" {
			controller.loginPath = resolved
		}
	}
}

// WithLogoutTimeout bounds the best-effort revocation call made on logout.
func WithLogoutTimeout(timeout time.Duration) Option {
	return func(controller *Controller) {
		if timeout > 0 {
			controller.logoutTimeout = timeout
		}
	}
}

// WithRefreshOptions customises the refreshing decorator used for protected calls.
func WithRefreshOptions(options ...authclient.RefreshingOption) Option {
	return func(controller *Controller) {
		controller.refreshOptions = append(controller.refreshOptions, options...)
	}
}

// New builds a Controller in the Initializing state. Call Start to hydrate.
func New(store *session.Store, transport authclient.Transport, options ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("controller.new: session store is required")
	}
	if transport == nil {
		return nil, errors.New("controller.new: auth transport is required")
	}
	controller := &Controller{
		store:              store,
		transport:          transport,
		logger:             zap.NewNop(),
		defaultDestination: defaultDestination,
		loginPath:          defaultLoginPath,
		logoutTimeout:      defaultLogoutTimeout,
		state:              session.Initializing,
	}
	for _, option := range options {
		option(controller)
	}
	refreshOptions := append([]authclient.RefreshingOption{authclient.WithRefreshLogger(controller.logger)}, controller.refreshOptions...)
	controller.protected = authclient.NewRefreshingTransport(transport, &sessionBinding{controller: controller}, refreshOptions...)
	return controller, nil
}

// Start hydrates the session and moves to Idle before returning. A restored
// session is verified in the background; the returned channel closes when that
// verification has finished. Calling Start again is a no-op.
func (controller *Controller) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	controller.mutex.Lock()
	if controller.started {
		controller.mutex.Unlock()
		close(done)
		return done
	}
	controller.started = true
	hydrated, err := controller.store.Hydrate(ctx)
	if err != nil {
		controller.logger.Warn("session hydrate failed; starting signed out",
			zap.String("code", "controller.start.hydrate_failed"),
			zap.Error(err))
	}
	controller.settleLocked()
	epoch := controller.epoch
	controller.mutex.Unlock()

	if !hydrated.IsAuthenticated() {
		close(done)
		return done
	}
	controller.logger.Info("session restored",
		zap.String("code", "controller.start.restored"),
		zap.Bool("cached_profile", hydrated.Profile != nil))
	go func() {
		defer close(done)
		controller.verifyProfile(ctx, epoch)
	}()
	return done
}

func (controller *Controller) verifyProfile(ctx context.Context, epoch uint64) {
	profile, err := controller.protected.FetchProfile(ctx)
	if err != nil {
		controller.logger.Info("profile verification failed; keeping cached session",
			zap.String("code", "controller.verify.soft_fail"),
			zap.Error(err))
		return
	}
	if applyErr := controller.applyVerifiedProfile(ctx, epoch, profile); applyErr != nil {
		controller.logger.Debug("verified profile not applied",
			zap.String("code", "controller.verify.not_applied"),
			zap.Error(applyErr))
	}
}

// RefreshProfile reloads the account through the refreshing decorator and
// caches it as verified.
func (controller *Controller) RefreshProfile(ctx context.Context) (*session.Profile, error) {
	controller.mutex.Lock()
	epoch := controller.epoch
	controller.mutex.Unlock()

	profile, err := controller.protected.FetchProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("controller.refresh_profile: %w", err)
	}
	if applyErr := controller.applyVerifiedProfile(ctx, epoch, profile); applyErr != nil {
		return nil, fmt.Errorf("controller.refresh_profile: %w", applyErr)
	}
	return profile.Clone(), nil
}

// applyVerifiedProfile caches profile unless the session changed since epoch was read.
func (controller *Controller) applyVerifiedProfile(ctx context.Context, epoch uint64, profile *session.Profile) error {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if controller.epoch != epoch {
		return authclient.ErrSessionSuperseded
	}
	if err := controller.store.Persist(ctx, session.Update{Profile: session.Assign(profile)}); err != nil {
		return err
	}
	controller.verified = true
	return nil
}

// Login exchanges credentials for a session and returns the post-login
// destination: redirectTarget when it is a safe local path, otherwise the
// default destination. While one login is pending another is rejected with
// ErrLoginInProgress.
func (controller *Controller) Login(ctx context.Context, username string, password string, redirectTarget string) (string, error) {
	controller.mutex.Lock()
	if !controller.started {
		controller.mutex.Unlock()
		return "", fmt.Errorf("controller.login: %w", ErrNotReady)
	}
	if controller.loginInFlight {
		controller.mutex.Unlock()
		return "", fmt.Errorf("controller.login: %w", ErrLoginInProgress)
	}
	controller.loginInFlight = true
	controller.inFlight++
	controller.settleLocked()
	controller.lastError = ""
	epoch := controller.epoch
	controller.mutex.Unlock()

	result, loginErr := controller.transport.Login(ctx, username, password)

	controller.mutex.Lock()
	controller.loginInFlight = false
	controller.inFlight--
	controller.settleLocked()

	if loginErr != nil {
		controller.lastError = loginFailureMessage(loginErr)
		controller.mutex.Unlock()
		controller.logger.Info("login failed",
			zap.String("code", "controller.login.failed"),
			zap.Error(loginErr))
		return "", fmt.Errorf("controller.login: %w", loginErr)
	}

	if controller.epoch != epoch {
		controller.mutex.Unlock()
		controller.logger.Info("login result arrived after logout; discarding",
			zap.String("code", "controller.login.superseded"))
		controller.revoke(ctx, result.RefreshToken)
		return "", fmt.Errorf("controller.login: %w", authclient.ErrSessionSuperseded)
	}

	profileField := session.Clear[*session.Profile]()
	if result.Profile != nil {
		profileField = session.Assign(result.Profile)
	}
	persistErr := controller.store.Persist(ctx, session.Update{
		AccessToken:  session.Assign(result.AccessToken),
		RefreshToken: session.Assign(result.RefreshToken),
		Profile:      profileField,
	})
	if persistErr != nil {
		controller.lastError = MessageLoginFailed
		controller.mutex.Unlock()
		controller.logger.Error("login succeeded but session was not persisted",
			zap.String("code", "controller.login.persist_failed"),
			zap.Error(persistErr))
		controller.revoke(ctx, result.RefreshToken)
		return "", fmt.Errorf("controller.login: %w", persistErr)
	}
	controller.epoch++
	controller.verified = result.Profile != nil
	controller.mutex.Unlock()

	controller.logger.Info("login succeeded",
		zap.String("code", "controller.login.success"),
		zap.String("user_id", profileIdentifier(result.Profile)))
	return guard.ResolveDestination(redirectTarget, controller.defaultDestination), nil
}

// Logout ends the session and returns the login path. It never fails: the
// revocation call is best effort and local state is cleared whatever it returns.
// Any login or refresh still pending is superseded.
func (controller *Controller) Logout(ctx context.Context) string {
	controller.mutex.Lock()
	controller.epoch++
	epoch := controller.epoch
	controller.inFlight++
	controller.settleLocked()
	refreshToken := controller.store.Snapshot().RefreshToken
	controller.mutex.Unlock()

	controller.revoke(ctx, refreshToken)

	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	controller.inFlight--
	controller.settleLocked()
	if controller.epoch != epoch {
		controller.logger.Debug("newer session established during logout",
			zap.String("code", "controller.logout.superseded"))
		return controller.loginPath
	}
	if err := controller.store.Clear(ctx); err != nil {
		controller.logger.Warn("session storage not fully cleared",
			zap.String("code", "controller.logout.clear_failed"),
			zap.Error(err))
	}
	controller.verified = false
	controller.lastError = ""
	controller.logger.Info("logged out", zap.String("code", "controller.logout.success"))
	return controller.loginPath
}

// Refresh renews the access token. When the refresh token is rejected the
// session is cleared and the error wraps authclient.ErrSessionExpired.
func (controller *Controller) Refresh(ctx context.Context) error {
	if !controller.IsAuthenticated() {
		return fmt.Errorf("controller.refresh: %w", authclient.ErrUnauthorized)
	}
	if _, err := controller.protected.Refresh(ctx); err != nil {
		return fmt.Errorf("controller.refresh: %w", err)
	}
	return nil
}

// Signup creates an account without touching the session.
func (controller *Controller) Signup(ctx context.Context, request authclient.SignupRequest) (*session.Profile, error) {
	profile, err := controller.transport.Signup(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("controller.signup: %w", err)
	}
	return profile, nil
}

// CurrentUser returns a copy of the cached profile, or nil.
func (controller *Controller) CurrentUser() *session.Profile {
	return controller.store.Snapshot().Profile
}

// Loading reports whether the controller is hydrating or waiting on the auth service.
func (controller *Controller) Loading() bool {
	return controller.LoadingState() != session.Idle
}

func (controller *Controller) LoadingState() session.LoadingState {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.state
}

// Error returns the last user-facing failure message.
func (controller *Controller) Error() string {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.lastError
}

// IsAuthenticated reports whether an access token is held. It never touches the network.
func (controller *Controller) IsAuthenticated() bool {
	return controller.store.IsAuthenticated()
}

// ProfileVerified reports whether the cached profile was confirmed by the auth
// service during this process lifetime.
func (controller *Controller) ProfileVerified() bool {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.verified && controller.store.IsAuthenticated()
}

// Protected returns the decorator consumers use for calls that need the access token.
func (controller *Controller) Protected() *authclient.RefreshingTransport {
	return controller.protected
}

func (controller *Controller) settleLocked() {
	switch {
	case !controller.started:
		controller.state = session.Initializing
	case controller.inFlight > 0:
		controller.state = session.AuthenticatingRequest
	default:
		controller.state = session.Idle
	}
}

func (controller *Controller) revoke(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controller.logoutTimeout)
	defer cancel()
	if err := controller.transport.Logout(revokeCtx, refreshToken); err != nil {
		controller.logger.Warn("refresh token revocation failed",
			zap.String("code", "controller.revoke.failed"),
			zap.Error(err))
	}
}

func loginFailureMessage(err error) string {
	if errors.Is(err, authclient.ErrInvalidCredentials) {
		return MessageInvalidCredentials
	}
	return MessageLoginFailed
}

func profileIdentifier(profile *session.Profile) string {
	if profile == nil {
		return ""
	}
	return string(profile.ID)
}
