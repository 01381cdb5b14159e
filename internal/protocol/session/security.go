package session

import (
	"errors"
	"fmt"
	"strings"
)

// SecurityMode selects how strictly a Conn requires sealed frames.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

var (
	ErrInvalidSecurityMode = errors.New("session: invalid security mode")
	ErrSealerRequired      = errors.New("session: sealer required in production mode")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

// ValidateSecurity checks that the configured mode is known and that
// production connections carry a sealer.
func (c Config) ValidateSecurity() error {
	mode := NormalizeSecurityMode(c.SecurityMode)
	switch mode {
	case SecurityModeDevelopment, SecurityModeProduction:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMode, c.SecurityMode)
	}
	if mode == SecurityModeProduction && c.Sealer == nil {
		return ErrSealerRequired
	}
	return nil
}
