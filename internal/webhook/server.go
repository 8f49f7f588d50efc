package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/gateway"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/metrics"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/subscription"
)

const (
	// maxBodySize caps gateway callback bodies; real events are a few KB
	maxBodySize = int64(65536)

	processTimeout = 60 * time.Second
)

// Activator settles a verified payment and reports who it belonged to
type Activator interface {
	ConfirmFromWebhook(ctx context.Context, reference string) (int64, *subscription.Activation, error)
}

// Server exposes health, metrics and the payment gateway callbacks
type Server struct {
	svc       Activator
	notifier  subscription.Notifier
	providers map[string]gateway.Provider
	metrics   *metrics.Metrics
	log       *slog.Logger

	server *http.Server
}

// NewServer creates a new webhook server
func NewServer(svc Activator, notifier subscription.Notifier, providers map[string]gateway.Provider, mets *metrics.Metrics, log *slog.Logger) *Server {
	return &Server{
		svc:       svc,
		notifier:  notifier,
		providers: providers,
		metrics:   mets,
		log:       log,
	}
}

// Start starts the webhook server
func (s *Server) Start(ctx context.Context, port int) error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.newRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.log.Info("starting webhook server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.POST("/webhook/:provider", s.handleWebhook)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "Premium Gaming Bot",
	})
}

func (s *Server) handleWebhook(c *gin.Context) {
	name := c.Param("provider")
	provider, ok := s.providers[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.log.Warn("read webhook body", "provider", name, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	signature := c.GetHeader(provider.SignatureHeader())
	if !provider.VerifyWebhookSignature(signature, body) {
		s.log.Warn("webhook signature rejected", "provider", name)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := provider.ParseWebhookEvent(body)
	if err != nil {
		s.log.Warn("invalid webhook payload", "provider", name, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	// Everything verified gets a 200 so the gateway stops retrying;
	// only successful charges are worth settling.
	if event.Reference == "" || !event.Succeeded {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	s.log.Debug("webhook received", "provider", name, "reference", event.Reference)

	// Settle asynchronously; the gateway only needs the ack
	go s.process(event.Reference)

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) process(reference string) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	userID, act, err := s.svc.ConfirmFromWebhook(ctx, reference)
	if err != nil {
		s.log.Warn("settle webhook payment", "reference", reference, "error", err)
		return
	}

	// The verify button may have won the race; the user already saw
	// the confirmation there.
	if act.AlreadyActive {
		return
	}

	s.notifier.NotifyActivated(ctx, userID, act)
}
