package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/config"
	"github.com/danmuck/nxwire/internal/observability"
	"github.com/danmuck/nxwire/internal/protocol/codec"
	"github.com/danmuck/nxwire/internal/protocol/session"
)

const maxNotices = 64

// Notice is one recorded CMD_NOTIFY message.
type Notice struct {
	Session   string    `json:"session"`
	EventCode uint32    `json:"event_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Service struct {
	cfg      config.DaemonConfig
	base     session.Config
	sessions *session.Registry
	codecs   *codec.Registry
	router   *gin.Engine
	started  time.Time

	accepted atomic.Uint64

	mu      sync.Mutex
	notices []Notice
}

// NewService builds a daemon from its file config and the session options
// derived from it.
func NewService(cfg config.DaemonConfig, base session.Config) (*Service, error) {
	base = base.WithDefaults()
	if err := base.ValidateSecurity(); err != nil {
		return nil, err
	}
	codecs, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		base:     base,
		sessions: session.NewRegistry(),
		codecs:   codecs,
		started:  time.Now(),
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Service) Sessions() *session.Registry { return s.sessions }

func (s *Service) HTTPRouter() *gin.Engine { return s.router }

// Run listens on the configured addresses and serves until SIGINT or
// SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("daemon: upload dir: %w", err)
	}
	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Listen))
	if err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", addr).Msg("daemon.admin listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				adminErr <- err
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, ln) }()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		stop()
		<-serveErr
		return fmt.Errorf("daemon: admin: %w", err)
	}
}

// Serve accepts protocol connections on ln until ctx ends. ln is closed on
// return and every live session is torn down.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("name", s.cfg.Name).Str("addr", ln.Addr().String()).Msg("daemon.Service listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer func() {
		s.sessions.CloseAll()
		wg.Wait()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Service) handleConn(ctx context.Context, nc net.Conn) {
	remote := nc.RemoteAddr().String()
	cfg := s.base
	cfg.Name = fmt.Sprintf("%s@%s", s.cfg.Name, remote)
	cfg.Observer = observability.NewSessionMetrics(s.cfg.Name)

	conn := session.NewConn(nc, cfg)
	p := newPeer(s, conn)
	conn.OnNotify(p.handle)
	conn.OnTransferError(p.transferFailed)

	s.sessions.Register(conn)
	observability.SessionOpened()
	n := s.accepted.Add(1)
	log.Info().Str("conn", cfg.Name).Uint64("accepted", n).Msg("daemon.Service session opened")

	err := conn.Serve(ctx)

	s.sessions.Remove(conn)
	observability.SessionClosed()
	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.Str("conn", cfg.Name).Interface("stats", conn.Stats()).Msg("daemon.Service session closed")
}

func (s *Service) recordNotice(n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	if len(s.notices) > maxNotices {
		s.notices = append([]Notice(nil), s.notices[len(s.notices)-maxNotices:]...)
	}
}

// Notices returns up to limit of the most recent notifications, oldest
// first. limit <= 0 returns all of them.
func (s *Service) Notices(limit int) []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.notices) {
		limit = len(s.notices)
	}
	out := make([]Notice, limit)
	copy(out, s.notices[len(s.notices)-limit:])
	return out
}
