package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/nxwire/internal/testutil/testlog"
)

func TestLoadDaemonConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nxwired.toml")
	body := `name = "edge-a"
listen = "127.0.0.1:5701"
upload_dir = "/tmp/nxwire-uploads"

[session]
request_timeout = "5s"
chunk_size = 1024

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Name != "edge-a" || cfg.Listen != "127.0.0.1:5701" || cfg.UploadDir != "/tmp/nxwire-uploads" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.AdminAddr != "127.0.0.1:4780" {
		t.Fatalf("undefined admin_addr should keep default, got %q", cfg.AdminAddr)
	}
	if cfg.Session.RequestTimeout != "5s" || cfg.Session.ChunkSize != 1024 {
		t.Fatalf("unexpected session section %+v", cfg.Session)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadDaemonConfigEmptyPath(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadDaemonConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Name != "nxwired" || cfg.Listen != ":4701" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadDaemonConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "nxwired.toml")
	if err := os.WriteFile(path, []byte("listn = \":1\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := loadDaemonConfig(path)
	if err == nil || !strings.Contains(err.Error(), "listn") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}
