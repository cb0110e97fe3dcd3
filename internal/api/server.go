package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/sirupsen/logrus"

	"example.com/labops/services/batch/config"
	"example.com/labops/services/batch/internal/tracing"
)

// Server is the HTTP server for the API
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handler    *Handler
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, logger *logrus.Logger, handler *Handler, tracer tracing.Tracer) *Server {
	gin.SetMode(cfg.GinMode)

	server := &Server{
		cfg:     cfg,
		router:  gin.New(),
		handler: handler,
	}

	server.setupMiddleware(logger, tracer)
	server.setupRoutes()

	return server
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware(logger *logrus.Logger, tracer tracing.Tracer) {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(logger))

	if tracer != nil && tracer.Application() != nil {
		s.router.Use(nrgin.Middleware(tracer.Application()))
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handler.Health)
	s.router.GET("/metrics", s.handler.Metrics)

	v1 := s.router.Group("/api/v1")

	batches := v1.Group("/batches")
	{
		batches.POST("", s.handler.CreateBatch)
		batches.GET("", s.handler.ListBatches)
		batches.GET("/:id", s.handler.GetBatch)
		batches.PATCH("/:id", s.handler.UpdateBatch)
		batches.DELETE("/:id", s.handler.DeleteBatch)
		batches.POST("/:id/reject", s.handler.RejectBatch)
	}

	inventory := v1.Group("/inventory")
	{
		inventory.POST("/transactions", s.handler.PostTransaction)
		inventory.GET("/items", s.handler.ListItems)
		inventory.GET("/items/:id", s.handler.GetItem)
		inventory.GET("/items/:id/transactions", s.handler.ListItemTransactions)
		inventory.DELETE("/items/:id/lots/:number", s.handler.DeleteItemLot)
	}

	archive := v1.Group("/archive")
	{
		archive.GET("", s.handler.ListArchived)
		archive.GET("/search", s.handler.SearchArchived)
		archive.GET("/:id", s.handler.GetArchived)
		archive.GET("/:id/document", s.handler.GetArchivedDocument)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTPServerAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.HTTPServerTimeout,
		WriteTimeout: s.cfg.HTTPServerTimeout,
	}

	logrus.Infof("HTTP server starting on %s", s.cfg.HTTPServerAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
