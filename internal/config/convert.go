package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/nxwire/internal/protocol/seal"
	"github.com/danmuck/nxwire/internal/protocol/session"
)

// SessionOptions turns the file sections into a session.Config. Unset
// values keep the session defaults.
func SessionOptions(name string, s SessionConfig, sec SecurityConfig) (session.Config, error) {
	cfg := session.DefaultConfig()
	cfg.Name = name

	d, err := parseDuration("request_timeout", s.RequestTimeout)
	if err != nil {
		return session.Config{}, err
	}
	if d > 0 {
		cfg.RequestTimeout = d
	}
	d, err = parseDuration("transfer_idle_timeout", s.TransferIdleTimeout)
	if err != nil {
		return session.Config{}, err
	}
	if d > 0 {
		cfg.TransferIdleTimeout = d
	}
	if s.MaxFrameSize > 0 {
		cfg.MaxFrameSize = s.MaxFrameSize
	}
	if s.MaxTransferSize > 0 {
		cfg.MaxTransferSize = s.MaxTransferSize
	}
	if s.MaxConsecutiveFrameErrors > 0 {
		cfg.MaxConsecutiveFrameErrors = s.MaxConsecutiveFrameErrors
	}
	if s.ChunkSize > 0 {
		cfg.ChunkSize = s.ChunkSize
	}
	cfg.Compress = s.Compress

	cfg.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(sec.Mode))
	if key := strings.TrimSpace(sec.KeyHex); key != "" {
		sealer, err := seal.FromHex(key)
		if err != nil {
			return session.Config{}, fmt.Errorf("security key_hex: %w", err)
		}
		cfg.Sealer = sealer
	}
	if err := cfg.ValidateSecurity(); err != nil {
		return session.Config{}, err
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
