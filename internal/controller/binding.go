package controller

import (
	"context"
	"fmt"

	"github.com/tyemirov/frontdesk/internal/authclient"
	"github.com/tyemirov/frontdesk/internal/session"
	"go.uber.org/zap"
)

// sessionBinding lets the refreshing decorator read and renew the controller's
// session. Results are applied only while the refresh token they were derived
// from is still the current one.
type sessionBinding struct {
	controller *Controller
}

func (binding *sessionBinding) AccessToken() string {
	return binding.controller.store.Snapshot().AccessToken
}

func (binding *sessionBinding) RefreshToken() string {
	return binding.controller.store.Snapshot().RefreshToken
}

func (binding *sessionBinding) ApplyRefresh(ctx context.Context, usedRefreshToken string, pair authclient.TokenPair) error {
	controller := binding.controller
	controller.mutex.Lock()
	defer controller.mutex.Unlock()

	if controller.store.Snapshot().RefreshToken != usedRefreshToken {
		controller.logger.Debug("refresh result for a replaced session discarded",
			zap.String("code", "controller.refresh.superseded"))
		return fmt.Errorf("controller.apply_refresh: %w", authclient.ErrSessionSuperseded)
	}
	update := session.Update{AccessToken: session.Assign(pair.AccessToken)}
	if pair.RefreshToken != "" {
		update.RefreshToken = session.Assign(pair.RefreshToken)
	}
	if err := controller.store.Persist(ctx, update); err != nil {
		return fmt.Errorf("controller.apply_refresh: %w", err)
	}
	return nil
}

func (binding *sessionBinding) SessionLost(ctx context.Context, usedRefreshToken string, cause error) {
	controller := binding.controller
	controller.mutex.Lock()
	defer controller.mutex.Unlock()

	if usedRefreshToken == "" || controller.store.Snapshot().RefreshToken != usedRefreshToken {
		return
	}
	controller.epoch++
	if err := controller.store.Clear(ctx); err != nil {
		controller.logger.Warn("session storage not fully cleared",
			zap.String("code", "controller.session_lost.clear_failed"),
			zap.Error(err))
	}
	controller.verified = false
	controller.lastError = MessageSessionExpired
	controller.logger.Warn("session ended by auth service",
		zap.String("code", "controller.session_lost"),
		zap.Error(cause))
}
