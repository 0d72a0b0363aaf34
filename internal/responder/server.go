package responder

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scoutflow/scoutflow/internal/llm"
	"github.com/scoutflow/scoutflow/internal/metrics"
)

type respondRequest struct {
	ChatID   string `json:"chat_id" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// Server exposes the responder over HTTP so the hosted function endpoint
// can be pointed at it during local development.
type Server struct {
	svc       *Service
	collector *metrics.Collector
	engine    *gin.Engine
	http      *http.Server
}

// NewServer wires the responder service into a gin router.
func NewServer(svc *Service, listen string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		svc:       svc,
		collector: svc.collector,
		engine:    engine,
		http: &http.Server{
			Addr:              listen,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST("/functions/respond-to-message", s.handleRespond)
	engine.GET("/stats", s.handleStats)

	return s
}

func (s *Server) handleStats(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.collector.Snapshot())
}

func (s *Server) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.svc.Respond(c.Request.Context(), req.ChatID, req.Username)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
	case errors.Is(err, llm.ErrFatalAPI):
		slog.Error("fatal provider error", "chat", req.ChatID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "llm provider rejected the request"})
	default:
		slog.Error("respond failed", "chat", req.ChatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	slog.Info("responder listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
