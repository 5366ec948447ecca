// Package controlplane serves the local HTTP API for status, manual passes,
// history and live events.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/utils"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// SetupRoutes builds the router. Everything under /v1 needs the token.
func SetupRoutes(h *Handler, token string) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger())
	r.Use(CORS())
	r.Use(Gzip())
	r.Use(RateLimit(rateLimit))

	r.GET("/", h.Index)

	v1 := r.Group("/v1")
	v1.Use(TokenAuth(token))
	{
		v1.GET("/status", h.Status)
		v1.POST("/sync", h.Sync)
		v1.GET("/history", h.History)
		v1.GET("/events", h.Events)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: ErrCodeNotFound, Error: "not found"})
	})
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Code: ErrCodeMethodNotAllow, Error: "method not allowed"})
	})

	return r.Handler()
}

type Server struct {
	cfg    config.ControlPlaneConfig
	server *http.Server
}

func NewServer(cfg config.ControlPlaneConfig, h *Handler) *Server {
	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           SetupRoutes(h, cfg.Token),
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			// no WriteTimeout, /v1/events streams until the client leaves
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Start serves until Stop. It returns once the listener fails or closes.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("control plane listen: %w", err)
	}
	slog.Info("control plane start", "addr", "http://"+ln.Addr().String(), "token", utils.MaskSecret(s.cfg.Token))

	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane serve: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	return s.server.Shutdown(ctx)
}
