package mockauth

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/frontdesk/pkg/accesstoken"
)

func TestRefreshRotationRevokesReplacedTokens(t *testing.T) {
	testCases := []struct {
		name      string
		openStore func(t *testing.T, clock accesstoken.Clock) RefreshTokenStore
	}{
		{
			name: "memory",
			openStore: func(t *testing.T, clock accesstoken.Clock) RefreshTokenStore {
				return NewMemoryRefreshTokenStore(WithStoreClock(clock))
			},
		},
		{
			name: "sqlite",
			openStore: func(t *testing.T, clock accesstoken.Clock) RefreshTokenStore {
				t.Helper()
				store, err := NewDatabaseRefreshTokenStore(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "refresh.db"), WithStoreClock(clock))
				if err != nil {
					t.Fatalf("open sqlite store: %v", err)
				}
				return store
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var store RefreshTokenStore
			fixture := newServiceFixtureWithStore(t, true, func(clock accesstoken.Clock) RefreshTokenStore {
				store = testCase.openStore(t, clock)
				return store
			})
			ctx := context.Background()

			login := decodeTokens(t, fixture.do(t, http.MethodPost, "/auth/login", gin.H{"username": "manager", "password": "s3cret"}, ""))
			accountID, loginTokenID, _, err := store.Validate(ctx, login.RefreshToken)
			if err != nil {
				t.Fatalf("validate login token: %v", err)
			}

			rotatedRecorder := fixture.do(t, http.MethodPost, "/auth/refresh", gin.H{"refreshToken": login.RefreshToken}, "")
			if rotatedRecorder.Code != http.StatusOK {
				t.Fatalf("refresh status %d: %s", rotatedRecorder.Code, rotatedRecorder.Body.String())
			}
			rotated := decodeTokens(t, rotatedRecorder)
			if reuse := fixture.do(t, http.MethodPost, "/auth/refresh", gin.H{"refreshToken": login.RefreshToken}, ""); reuse.Code != http.StatusUnauthorized {
				t.Fatalf("expected reused login token to be refused, got %d", reuse.Code)
			}
			if _, _, _, err := store.Validate(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshTokenRevoked) {
				t.Fatalf("expected ErrRefreshTokenRevoked, got %v", err)
			}
			if err := store.Revoke(ctx, loginTokenID); !errors.Is(err, ErrRefreshTokenAlreadyRevoked) {
				t.Fatalf("expected ErrRefreshTokenAlreadyRevoked, got %v", err)
			}

			rotatedAccountID, rotatedTokenID, _, err := store.Validate(ctx, rotated.RefreshToken)
			if err != nil {
				t.Fatalf("validate rotated token: %v", err)
			}
			if rotatedAccountID != accountID || rotatedTokenID == loginTokenID {
				t.Fatalf("expected a new token for %s, got %s/%s", accountID, rotatedAccountID, rotatedTokenID)
			}

			_, successorOpaque, err := store.Issue(ctx, accountID, fixture.clock.Now().Add(time.Hour).Unix(), rotatedTokenID)
			if err != nil {
				t.Fatalf("issue successor: %v", err)
			}
			if err := store.Revoke(ctx, rotatedTokenID); err != nil {
				t.Fatalf("revoke rotated token: %v", err)
			}
			if reuse := fixture.do(t, http.MethodPost, "/auth/refresh", gin.H{"refreshToken": rotated.RefreshToken}, ""); reuse.Code != http.StatusUnauthorized {
				t.Fatalf("expected revoked token to be refused, got %d", reuse.Code)
			}
			if successor := fixture.do(t, http.MethodPost, "/auth/refresh", gin.H{"refreshToken": successorOpaque}, ""); successor.Code != http.StatusOK {
				t.Fatalf("expected successor token to refresh, got %d", successor.Code)
			}

			_, staleOpaque, err := store.Issue(ctx, accountID, fixture.clock.Now().Add(-time.Minute).Unix(), "")
			if err != nil {
				t.Fatalf("issue stale token: %v", err)
			}
			if _, _, _, err := store.Validate(ctx, staleOpaque); !errors.Is(err, ErrRefreshTokenExpired) {
				t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
			}
			if stale := fixture.do(t, http.MethodPost, "/auth/refresh", gin.H{"refreshToken": staleOpaque}, ""); stale.Code != http.StatusUnauthorized {
				t.Fatalf("expected expired token to be refused, got %d", stale.Code)
			}

			if _, _, _, err := store.Validate(ctx, "missing"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("expected ErrRefreshTokenNotFound, got %v", err)
			}
			if err := store.Revoke(ctx, "missing-token"); !errors.Is(err, ErrRefreshTokenNotFound) {
				t.Fatalf("expected ErrRefreshTokenNotFound when revoking, got %v", err)
			}
			if fixture.metrics.Count(EventRefreshFailure) != 3 || fixture.metrics.Count(EventRefreshSuccess) != 2 {
				t.Fatalf("unexpected metrics %+v", fixture.metrics.Snapshot())
			}
		})
	}
}
