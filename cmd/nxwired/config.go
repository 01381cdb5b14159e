package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/nxwire/internal/config"
)

type fileConfig struct {
	Name        string                `toml:"name"`
	Listen      string                `toml:"listen"`
	AdminAddr   string                `toml:"admin_addr"`
	UploadDir   string                `toml:"upload_dir"`
	AdminToken  string                `toml:"admin_token"`
	CorsOrigins []string              `toml:"cors_origins"`
	Session     config.SessionConfig  `toml:"session"`
	Security    config.SecurityConfig `toml:"security"`
	Log         config.LogConfig      `toml:"log"`
}

// loadDaemonConfig overlays the keys present in path onto the daemon
// defaults. An empty path yields the defaults.
func loadDaemonConfig(path string) (config.DaemonConfig, error) {
	cfg := config.DefaultDaemonConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.DaemonConfig{}, fmt.Errorf("load daemon config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config.DaemonConfig{}, fmt.Errorf("load daemon config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("upload_dir") {
		cfg.UploadDir = strings.TrimSpace(raw.UploadDir)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("session") {
		cfg.Session = raw.Session
	}
	if meta.IsDefined("security") {
		cfg.Security = raw.Security
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}

	if err := config.ValidateDaemonConfig(cfg); err != nil {
		return config.DaemonConfig{}, err
	}
	return cfg, nil
}
