package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/config"
	"github.com/danmuck/nxwire/internal/observability"
)

func defaultPath(kind string) (string, error) {
	switch kind {
	case "daemon":
		return "cmd/nxwired/config.toml", nil
	case "client":
		return "cmd/nxwirectl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func main() {
	kind := flag.String("kind", "daemon", "config kind: daemon|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	observability.InitLogger("configgen")
	if err := run(*kind, *output, *input, *validate, *force); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(kind, output, input string, validate, force bool) error {
	if validate {
		path := input
		if path == "" {
			p, err := defaultPath(kind)
			if err != nil {
				return err
			}
			path = p
		}
		switch kind {
		case "daemon":
			if _, err := config.LoadDaemonConfig(path); err != nil {
				return err
			}
		case "client":
			if _, err := config.LoadClientConfig(path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown kind: %s", kind)
		}
		log.Info().Str("kind", kind).Str("path", path).Msg("configgen validated")
		return nil
	}

	target := output
	if target == "" {
		p, err := defaultPath(kind)
		if err != nil {
			return err
		}
		target = p
	}
	if err := config.WriteTemplate(target, kind, force); err != nil {
		return err
	}
	log.Info().Str("kind", kind).Str("path", target).Msg("configgen wrote template")
	return nil
}
