package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/telemlink/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusServerConfig configures the optional HTTP status endpoint.
type StatusServerConfig struct {
	ListenAddr  string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on /metrics and
	// /sources. /health and /ready stay open.
	Token string
}

// SnapshotFunc returns a JSON-encodable view served at /sources.
type SnapshotFunc func() any

// ReadyFunc reports whether the owning service finished bootstrap.
type ReadyFunc func() bool

// StatusServer serves /health, /ready, /metrics and /sources.
type StatusServer struct {
	node     string
	cfg      StatusServerConfig
	router   *gin.Engine
	ready    ReadyFunc
	snapshot SnapshotFunc
	started  time.Time
}

func NewStatusServer(node string, cfg StatusServerConfig, ready ReadyFunc, snapshot SnapshotFunc) *StatusServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{
		node:     node,
		cfg:      cfg,
		router:   r,
		ready:    ready,
		snapshot: snapshot,
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"node":   s.node,
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		if s.ready != nil && !s.ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "node": s.node})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "node": s.node})
	})
	guarded := s.router.Group("/")
	if s.cfg.Token != "" {
		guarded.Use(auth.Middleware(auth.StaticToken{Token: s.cfg.Token}))
	}
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	guarded.GET("/sources", func(c *gin.Context) {
		var sources any = []any{}
		if s.snapshot != nil {
			sources = s.snapshot()
		}
		c.JSON(http.StatusOK, gin.H{"node": s.node, "sources": sources})
	})
}

// Serve listens on cfg.ListenAddr until ctx is cancelled.
func (s *StatusServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *StatusServer) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("node", s.node).Str("addr", ln.Addr().String()).Msg("observability.StatusServer.Serve listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
