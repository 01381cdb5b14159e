package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/config"
	"github.com/danmuck/nxwire/internal/logging"
	"github.com/danmuck/nxwire/internal/observability"
	"github.com/danmuck/nxwire/internal/protocol/session"
)

func main() {
	path := flag.String("config", "", "client config path (TOML)")
	server := flag.String("server", "", "override daemon address")
	dump := flag.Bool("dump", false, "print replies as XML documents")
	flag.Parse()

	if err := run(*path, *server, *dump, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "nxwirectl: %v\n", err)
		os.Exit(1)
	}
}

func run(path, server string, dump bool, args []string) error {
	observability.InitLogger("nxwirectl")
	if len(args) == 0 {
		return ErrUsage
	}

	cfg, err := loadClientConfig(path)
	if err != nil {
		return err
	}
	if server != "" {
		cfg.Server = server
	}
	if cfg.Log.Level != "" && !logging.SetLevel(cfg.Log.Level) {
		log.Warn().Str("level", cfg.Log.Level).Msg("nxwirectl unknown log level, keeping default")
	}
	scfg, err := config.SessionOptions(cfg.Name, cfg.Session, cfg.Security)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := session.Dial(ctx, "tcp", cfg.Server, scfg, cfg.ConnectAttempts)
	if err != nil {
		return err
	}
	conn := session.NewConn(nc, scfg)
	defer conn.Close()
	go func() {
		if err := conn.Serve(ctx); err != nil {
			log.Warn().Err(err).Msg("nxwirectl session ended")
		}
	}()

	c, err := newClient(conn, os.Stdout, dump)
	if err != nil {
		return err
	}
	return c.run(ctx, args)
}
