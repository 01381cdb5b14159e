package daemon

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/auth"
	"github.com/danmuck/nxwire/internal/observability"
	"github.com/danmuck/nxwire/internal/protocol"
)

func (s *Service) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).String(),
			"service":  s.cfg.Name,
			"protocol": protocol.Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": s.sessions.Stats(),
			"accepted": s.accepted.Load(),
		})
	})

	r.GET("/sessions/:name", func(c *gin.Context) {
		conn, ok := s.sessions.Get(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"stats":   conn.Stats(),
			"pending": conn.Correlator().PendingIDs(),
		})
	})

	r.POST("/sessions/:name/actions/close", auth.Require(s.adminValidator()), func(c *gin.Context) {
		conn, ok := s.sessions.Get(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		_ = conn.Close()
		log.Info().Str("conn", conn.Name()).Msg("daemon.admin session closed by operator")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/notices", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"notices": s.Notices(limit)})
	})

	return r
}

// adminValidator returns nil when no admin token is configured.
func (s *Service) adminValidator() auth.Validator {
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		return auth.StaticToken{Token: token}
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
