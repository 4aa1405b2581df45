package mockauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/frontdesk/pkg/accesstoken"
)

var errEmptySubject = errors.New("subject must be non-empty")

// notBeforeSkew tolerates small clock drift between the mock service and its clients.
const notBeforeSkew = 30 * time.Second

// MintAccessToken creates a signed HS256 access token for account.
func MintAccessToken(clock accesstoken.Clock, account Account, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(account.ID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", errEmptySubject)
	}
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accesstoken.Claims{
		UserID:          account.ID,
		UserEmail:       account.Email,
		UserDisplayName: account.DisplayName,
		UserRoles:       account.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   account.ID,
			ID:        newRefreshTokenID(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-notBeforeSkew)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.failure: %w", err)
	}
	return signed, expiresAt, nil
}
