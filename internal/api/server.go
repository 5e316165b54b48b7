// Package api exposes the daemon's HTTP surface: webhook ingress, the
// connection lifecycle endpoints the dashboard polls, and bot CRUD.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ericobon/EsferaZap-sub001/internal/ai"
	"github.com/Ericobon/EsferaZap-sub001/internal/dispatch"
	"github.com/Ericobon/EsferaZap-sub001/internal/session"
	"github.com/Ericobon/EsferaZap-sub001/internal/store"
)

// Server wraps the gin engine and its http.Server.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the router and binds all handlers.
func NewServer(addr string, db *store.DB, registry *session.Registry, processor *dispatch.Processor, aiReg *ai.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	h := &handlers{
		db:        db,
		registry:  registry,
		processor: processor,
		ai:        aiReg,
		logger:    logger,
	}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	router.POST("/webhook/:botID", h.webhook)

	router.POST("/bots", h.createBot)
	router.GET("/bots", h.listBots)
	router.GET("/bots/:botID", h.getBot)
	router.PUT("/bots/:botID", h.updateBot)
	router.DELETE("/bots/:botID", h.deleteBot)

	router.POST("/bots/:botID/connect", h.connect)
	router.POST("/bots/:botID/disconnect", h.disconnect)
	router.GET("/bots/:botID/status", h.status)
	router.POST("/bots/:botID/pair", h.pair)
	router.POST("/bots/:botID/test", h.testMessage)

	router.GET("/bots/:botID/conversations", h.listConversations)
	router.GET("/conversations/:id/messages", h.listMessages)
	router.POST("/conversations/:id/assign", h.assignConversation)

	router.POST("/sentiment", h.sentiment)

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	_ = s.srv.Shutdown(ctx)
}

// requestLogger logs each request with latency and status.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)))
	}
}
