package accesstoken

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Inspect decodes the claims of a JWT access token without verifying its
// signature. Clients use it only to schedule refreshes; it grants no trust.
func Inspect(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("accesstoken.inspect: %w", ErrMissingToken)
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("accesstoken.inspect: %w", ErrInvalidToken)
	}
	return claims, nil
}
