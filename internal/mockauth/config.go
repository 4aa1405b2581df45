package mockauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/frontdesk/pkg/accesstoken"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	errMissingSigningKey = errors.New("mockauth.config.missing_signing_key")
	errMissingIssuer     = errors.New("mockauth.config.missing_issuer")
)

// ServerConfig configures token issuance for the mock auth service.
type ServerConfig struct {
	SigningKey        []byte
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	AllowInsecureHTTP bool
	Clock             accesstoken.Clock
}

func (configuration ServerConfig) normalized() (ServerConfig, error) {
	if len(configuration.SigningKey) == 0 {
		return ServerConfig{}, fmt.Errorf("mockauth.config: %w", errMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return ServerConfig{}, fmt.Errorf("mockauth.config: %w", errMissingIssuer)
	}
	if configuration.AccessTTL <= 0 {
		configuration.AccessTTL = defaultAccessTTL
	}
	if configuration.RefreshTTL <= 0 {
		configuration.RefreshTTL = defaultRefreshTTL
	}
	if configuration.Clock == nil {
		configuration.Clock = accesstoken.SystemClock()
	}
	return configuration, nil
}
