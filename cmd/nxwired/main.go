package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/config"
	"github.com/danmuck/nxwire/internal/daemon"
	"github.com/danmuck/nxwire/internal/logging"
	"github.com/danmuck/nxwire/internal/observability"
)

func main() {
	path := flag.String("config", "", "daemon config path (TOML)")
	listen := flag.String("listen", "", "override protocol listen address")
	admin := flag.String("admin", "", "override admin HTTP address")
	flag.Parse()

	if err := run(*path, *listen, *admin); err != nil {
		fmt.Fprintf(os.Stderr, "nxwired: %v\n", err)
		os.Exit(1)
	}
}

func run(path, listen, admin string) error {
	observability.InitLogger("nxwired")

	cfg, err := loadDaemonConfig(path)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if admin != "" {
		cfg.AdminAddr = admin
	}
	if cfg.Log.Level != "" && !logging.SetLevel(cfg.Log.Level) {
		log.Warn().Str("level", cfg.Log.Level).Msg("nxwired unknown log level, keeping default")
	}

	base, err := config.SessionOptions(cfg.Name, cfg.Session, cfg.Security)
	if err != nil {
		return err
	}
	svc, err := daemon.NewService(cfg, base)
	if err != nil {
		return err
	}
	log.Info().
		Str("listen", cfg.Listen).
		Str("admin", cfg.AdminAddr).
		Str("security", string(base.SecurityMode)).
		Bool("sealed", base.Sealer != nil).
		Msg("nxwired starting")
	return svc.Run()
}
