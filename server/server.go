package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insanmiy/banward/config"
	"github.com/insanmiy/banward/log"
)

// RouteRegistrar is implemented by components that expose HTTP routes, most
// notably the punishment Manager.
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// Server hosts the admin HTTP API.
type Server struct {
	config *config.Config
	http   *http.Server
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg *config.Config, registrars ...RouteRegistrar) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	for _, r := range registrars {
		r.RegisterRoutes(router)
	}

	return &Server{
		config: cfg,
		http: &http.Server{
			Addr:    cfg.GetAddress(),
			Handler: router,
		},
	}
}

// Start runs the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	if !s.config.HTTP.Enabled {
		log.Log.Infof("[Server] HTTP server is disabled")
		return nil
	}

	log.Log.Infof("[Server] Listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
