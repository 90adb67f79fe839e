// Package server exposes the pipeline and the correlation store over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"conversions/config"
	"conversions/internal/correlation"
	"conversions/internal/pipeline"
)

const (
	WebhookPath       = "/webhooks/orders"
	legacyWebhookPath = "/api/shopify-webhook"
	CookiesPath       = "/cookies"

	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
)

// Processor runs one webhook through the pipeline.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error)
}

// Server is the webhook HTTP server
type Server struct {
	addr      string
	processor Processor
	cookies   correlation.Store
	logger    *slog.Logger
	router    *gin.Engine
	now       func() time.Time
}

// NewServer wires the routes. cookies may be nil, in which case the
// correlation endpoints are not mounted.
func NewServer(cfg config.ServerConfig, processor Processor, cookies correlation.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true

	s := &Server{
		addr:      cfg.Addr,
		processor: processor,
		cookies:   cookies,
		logger:    logger.With("component", "http"),
		router:    router,
		now:       time.Now,
	}

	router.Use(s.requestID(), s.accessLog(), gin.CustomRecovery(s.recover))
	router.NoMethod(s.handleMethodNotAllowed)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST(WebhookPath, s.handleWebhook)
	router.POST(legacyWebhookPath, s.handleWebhook)

	if cookies != nil {
		router.POST(CookiesPath, s.handleStoreCookies)
		router.GET(CookiesPath, s.handleLookupCookies)
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		s.logger.InfoContext(c.Request.Context(), "request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", s.now().Sub(start),
		)
	}
}

func (s *Server) recover(c *gin.Context, v any) {
	s.logger.ErrorContext(c.Request.Context(), "panic while handling request",
		"request_id", c.GetString("request_id"), "panic", v)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "internal error",
	})
}

func (s *Server) handleMethodNotAllowed(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, CookiesPath) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method Not Allowed"})
		return
	}
	c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
}

func (s *Server) log(c *gin.Context) *slog.Logger {
	return s.logger.With("request_id", c.GetString("request_id"))
}
