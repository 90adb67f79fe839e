package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"conversions/internal/assembler"
	"conversions/internal/correlation"
	"conversions/internal/meta"
	"conversions/internal/pipeline"
	"conversions/internal/signature"
	"conversions/models"
)

// maxWebhookBody bounds the body held in memory for signature verification.
const maxWebhookBody = 1 << 20

type storeCookiesRequest struct {
	SessionID string `json:"session_id"`
	FBP       string `json:"fbp"`
	FBC       string `json:"fbc"`
}

func (s *Server) handleWebhook(c *gin.Context) {
	// The signature covers the exact bytes, so read them before anything parses the body.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read body"})
		return
	}

	out, err := s.processor.Process(c.Request.Context(), pipeline.Input{
		Body:      body,
		Signature: c.GetHeader(signature.HeaderName),
		Hints: assembler.ClientHints{
			ForwardedFor: c.GetHeader("X-Forwarded-For"),
			RemoteAddr:   c.Request.RemoteAddr,
			UserAgent:    c.Request.UserAgent(),
		},
		ReceivedAt: s.now(),
	})

	var derr *meta.DeliveryError
	switch {
	case errors.Is(err, pipeline.ErrSignatureRejected):
		c.String(http.StatusUnauthorized, "Invalid signature")
	case errors.As(err, &derr):
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": derr.Detail()})
	case err != nil:
		s.log(c).ErrorContext(c.Request.Context(), "webhook processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	case out.Status == pipeline.StatusSkipped:
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Recurring order ignored"})
	case out.Status == pipeline.StatusDryRun:
		c.JSON(http.StatusOK, gin.H{"success": true, "dry_run": true, "event": out.Event})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "result": out.Response.Raw})
	}
}

func (s *Server) handleStoreCookies(c *gin.Context) {
	var req storeCookiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	key := strings.TrimSpace(req.SessionID)
	if key == "" {
		key = assembler.FirstForwardedFor(c.GetHeader("X-Forwarded-For"))
	}
	if key == "" {
		key = c.RemoteIP()
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session ID or IP"})
		return
	}

	rec := models.CorrelationRecord{FBP: req.FBP, FBC: req.FBC, Timestamp: s.now()}
	if err := s.cookies.Put(c.Request.Context(), key, rec); err != nil {
		s.log(c).ErrorContext(c.Request.Context(), "failed to store correlation record", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store cookies"})
		return
	}

	s.log(c).InfoContext(c.Request.Context(), "stored correlation record", "lookup_key", key)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleLookupCookies(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}

	rec, err := s.cookies.Get(c.Request.Context(), key)
	if errors.Is(err, correlation.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if err != nil {
		s.log(c).ErrorContext(c.Request.Context(), "failed to look up correlation record", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fbp": rec.FBP, "fbc": rec.FBC})
}
