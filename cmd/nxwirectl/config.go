package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/nxwire/internal/config"
)

type fileConfig struct {
	Name            string                `toml:"name"`
	Server          string                `toml:"server"`
	ConnectAttempts int                   `toml:"connect_attempts"`
	Session         config.SessionConfig  `toml:"session"`
	Security        config.SecurityConfig `toml:"security"`
	Log             config.LogConfig      `toml:"log"`
}

func loadClientConfig(path string) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("connect_attempts") {
		cfg.ConnectAttempts = raw.ConnectAttempts
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

	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}
