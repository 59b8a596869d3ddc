package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duynguyendang/fiscalxml/pkg/service"
)

// Server holds the state for the REST API server.
type Server struct {
	svc       *service.Service
	workspace string
	gatherer  prometheus.Gatherer
	router    *gin.Engine
}

type Option func(*Server)

// WithGatherer exposes the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new Server. Requests without a workspace parameter
// use workspace.
func NewServer(svc *service.Service, workspace string, opts ...Option) *Server {
	r := gin.Default()
	s := &Server{
		svc:       svc,
		workspace: workspace,
		router:    r,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1")
	v1.GET("/workspaces", s.handleWorkspaces)
	v1.POST("/workspaces", s.handleCreateWorkspace)
	v1.POST("/workspaces/:id/load", s.handleLoad)
	v1.GET("/documents", s.handleDocuments)
	v1.GET("/documents/:type/:key", s.handleDocument)
	v1.GET("/documents/:type/:key/raw", s.handleRaw)
	v1.DELETE("/documents/:key", s.handleDelete)
	v1.GET("/stats", s.handleStats)
	v1.POST("/imports", s.handleImport)
	v1.GET("/export", s.handleExport)
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}
