// Package server exposes the assistant over HTTP: the WhatsApp webhook,
// the voice-response callback, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notexe/remindme/internal/logging"
	"github.com/notexe/remindme/internal/whatsapp"
)

// VoiceHandler applies a transcribed answer to a reminder call.
type VoiceHandler interface {
	HandleVoiceResponse(ctx context.Context, phone string, reminderID int64, transcript string) (string, error)
}

// Config selects what the server mounts. Nil fields are skipped.
type Config struct {
	Addr     string
	Webhook  *whatsapp.Webhook
	Voice    VoiceHandler
	Gatherer prometheus.Gatherer
	Debug    bool
	Logger   *slog.Logger
}

// Server is the HTTP front of the assistant.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	webhook    *whatsapp.Webhook
	voice      VoiceHandler
	logger     *slog.Logger
	startTime  time.Time
}

// New builds the router for cfg.
func New(cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		webhook:   cfg.Webhook,
		voice:     cfg.Voice,
		logger:    logging.Component(cfg.Logger, "http"),
		startTime: time.Now(),
	}
	engine.Use(s.accessLog())

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	engine.GET("/healthz", s.handleHealth)
	if cfg.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.Webhook != nil {
		cfg.Webhook.Register(engine)
	}
	if cfg.Voice != nil {
		engine.POST("/voice/response", s.handleVoiceResponse)
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// webhook messages.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	if s.webhook != nil {
		s.webhook.Wait()
	}
	return err
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

type voiceRequest struct {
	Phone      string `json:"phone" binding:"required"`
	ReminderID int64  `json:"reminder_id" binding:"required"`
	Transcript string `json:"transcript"`
}

type voiceResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleVoiceResponse(c *gin.Context) {
	var req voiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, voiceResponse{Error: "invalid request: " + err.Error()})
		return
	}

	reply, err := s.voice.HandleVoiceResponse(c.Request.Context(), strings.TrimSpace(req.Phone), req.ReminderID, req.Transcript)
	if err != nil {
		s.logger.Error("voice response failed", "phone", req.Phone, "reminder_id", req.ReminderID, "error", err)
		c.JSON(http.StatusInternalServerError, voiceResponse{Reply: reply, Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, voiceResponse{Reply: reply})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
