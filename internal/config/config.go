package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type SessionConfig struct {
	RequestTimeout            string `toml:"request_timeout"`
	TransferIdleTimeout       string `toml:"transfer_idle_timeout"`
	MaxFrameSize              uint32 `toml:"max_frame_size"`
	MaxTransferSize           uint64 `toml:"max_transfer_size"`
	MaxConsecutiveFrameErrors int    `toml:"max_consecutive_frame_errors"`
	ChunkSize                 int    `toml:"chunk_size"`
	Compress                  bool   `toml:"compress"`
}

type SecurityConfig struct {
	Mode   string `toml:"mode"`
	KeyHex string `toml:"key_hex"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type DaemonConfig struct {
	Name        string         `toml:"name"`
	Listen      string         `toml:"listen"`
	AdminAddr   string         `toml:"admin_addr"`
	UploadDir   string         `toml:"upload_dir"`
	AdminToken  string         `toml:"admin_token"`
	CorsOrigins []string       `toml:"cors_origins"`
	Session     SessionConfig  `toml:"session"`
	Security    SecurityConfig `toml:"security"`
	Log         LogConfig      `toml:"log"`
}

type ClientConfig struct {
	Name            string         `toml:"name"`
	Server          string         `toml:"server"`
	ConnectAttempts int            `toml:"connect_attempts"`
	Session         SessionConfig  `toml:"session"`
	Security        SecurityConfig `toml:"security"`
	Log             LogConfig      `toml:"log"`
}

func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Name:      "nxwired",
		Listen:    ":4701",
		AdminAddr: "127.0.0.1:4780",
		UploadDir: "uploads",
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:            "nxwirectl",
		Server:          "127.0.0.1:4701",
		ConnectAttempts: 3,
	}
}

func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := DefaultDaemonConfig()
	if err := loadToml(path, &cfg); err != nil {
		return DaemonConfig{}, err
	}
	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("daemon config missing name")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("daemon config missing listen")
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		return fmt.Errorf("daemon config missing upload_dir")
	}
	if err := ValidateSession(cfg.Session); err != nil {
		return fmt.Errorf("session invalid: %w", err)
	}
	return ValidateSecurity(cfg.Security)
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Server) == "" {
		return fmt.Errorf("client config missing server")
	}
	if cfg.ConnectAttempts < 0 {
		return fmt.Errorf("connect_attempts must not be negative")
	}
	if err := ValidateSession(cfg.Session); err != nil {
		return fmt.Errorf("session invalid: %w", err)
	}
	return ValidateSecurity(cfg.Security)
}

func ValidateSession(cfg SessionConfig) error {
	if cfg.MaxConsecutiveFrameErrors < 0 {
		return fmt.Errorf("max_consecutive_frame_errors must not be negative")
	}
	if cfg.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must not be negative")
	}
	if cfg.MaxFrameSize != 0 && cfg.ChunkSize > int(cfg.MaxFrameSize) {
		return fmt.Errorf("chunk_size %d exceeds max_frame_size %d", cfg.ChunkSize, cfg.MaxFrameSize)
	}
	if _, err := parseDuration("request_timeout", cfg.RequestTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("transfer_idle_timeout", cfg.TransferIdleTimeout); err != nil {
		return err
	}
	return nil
}

func ValidateSecurity(cfg SecurityConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "development":
		return nil
	case "production":
		if strings.TrimSpace(cfg.KeyHex) == "" {
			return fmt.Errorf("security mode production requires key_hex")
		}
		return nil
	default:
		return fmt.Errorf("unknown security mode: %s", cfg.Mode)
	}
}
