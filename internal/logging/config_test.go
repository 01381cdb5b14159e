package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":       zerolog.DebugLevel,
		" WARN ":      zerolog.WarnLevel,
		"diagnostics": zerolog.TraceLevel,
		"off":         zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Fatalf("parseLevel(%q) = %v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "true")
	t.Setenv(EnvLogBypass, "1")
	t.Setenv(EnvLogNoColor, "nope")

	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || !cfg.Timestamp || !cfg.Bypass {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.NoColor {
		t.Fatalf("invalid bool should keep the profile default")
	}
}
