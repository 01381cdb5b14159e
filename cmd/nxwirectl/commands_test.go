package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/nxwire/internal/config"
	"github.com/danmuck/nxwire/internal/daemon"
	"github.com/danmuck/nxwire/internal/protocol/schema"
	"github.com/danmuck/nxwire/internal/protocol/session"
	"github.com/danmuck/nxwire/internal/testutil/testlog"
)

func startClient(t *testing.T, dump bool) (*client, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	dcfg := config.DefaultDaemonConfig()
	dcfg.UploadDir = dir
	svc, err := daemon.NewService(dcfg, session.Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Serve(ctx, ln) }()

	scfg := session.Config{Name: "nxwirectl-test", ChunkSize: 64, RequestTimeout: 2 * time.Second}
	nc, err := session.Dial(ctx, "tcp", ln.Addr().String(), scfg, 3)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := session.NewConn(nc, scfg)
	go func() { _ = conn.Serve(ctx) }()
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
	})

	var out bytes.Buffer
	c, err := newClient(conn, &out, dump)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, &out, dir
}

func runArgs(t *testing.T, c *client, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.run(ctx, args)
}

func TestPingEchoCaps(t *testing.T) {
	testlog.Start(t)
	c, out, _ := startClient(t, false)
	if err := runArgs(t, c, "ping"); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := runArgs(t, c, "echo", "hello", "edge"); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if err := runArgs(t, c, "caps"); err != nil {
		t.Fatalf("caps: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "pong from nxwirectl-test") || !strings.Contains(text, "hello edge\n") || !strings.Contains(text, "peer protocol version 2") {
		t.Fatalf("unexpected output:\n%s", text)
	}
}

func TestDumpPrintsXML(t *testing.T) {
	testlog.Start(t)
	c, out, _ := startClient(t, true)
	if err := runArgs(t, c, "echo", "xml please"); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if !strings.Contains(out.String(), "<nxwire version=") || !strings.Contains(out.String(), "xml please") {
		t.Fatalf("expected xml dump, got:\n%s", out.String())
	}
}

func TestUploadAndInventory(t *testing.T) {
	testlog.Start(t)
	c, out, dir := startClient(t, false)
	src := filepath.Join(t.TempDir(), "source.bin")
	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 200)
	if err := os.WriteFile(src, data, 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := runArgs(t, c, "upload", src, "stored.bin"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "stored.bin"))
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("stored upload mismatch err=%v", err)
	}

	if err := runArgs(t, c, "inventory"); err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if !strings.Contains(out.String(), `"node": "nxwired"`) {
		t.Fatalf("inventory output missing node:\n%s", out.String())
	}
}

func TestUploadRejectedNameSurfacesRCC(t *testing.T) {
	testlog.Start(t)
	c, _, _ := startClient(t, false)
	src := filepath.Join(t.TempDir(), "x.txt")
	if err := os.WriteFile(src, []byte("x"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	err := runArgs(t, c, "upload", src, "../x.txt")
	var rccErr RCCError
	if !errors.As(err, &rccErr) || rccErr.RCC != schema.RCCInvalidArgument {
		t.Fatalf("expected invalid argument RCCError, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	testlog.Start(t)
	c, _, _ := startClient(t, false)
	cases := []struct {
		args      []string
		wantUsage bool
	}{
		{nil, true},
		{[]string{"echo"}, true},
		{[]string{"bogus"}, true},
		{[]string{"notify", "x", "text"}, false},
	}
	for _, tc := range cases {
		err := runArgs(t, c, tc.args...)
		if err == nil {
			t.Fatalf("args %v: expected error", tc.args)
		}
		if tc.wantUsage && !errors.Is(err, ErrUsage) {
			t.Fatalf("args %v: expected ErrUsage, got %v", tc.args, err)
		}
	}
}

func TestNotifySends(t *testing.T) {
	testlog.Start(t)
	c, out, _ := startClient(t, false)
	if err := runArgs(t, c, "notify", "7", "disk", "full"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(out.String(), "notification 7 sent") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
