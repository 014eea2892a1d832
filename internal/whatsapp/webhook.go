package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/notexe/remindme/internal/logging"
)

// WebhookPath is where the Cloud API delivers events.
const WebhookPath = "/webhook/whatsapp"

// MaxPayloadBytes caps the size of a webhook delivery body.
const MaxPayloadBytes = 1 << 20

// Inbound consumes one inbound text message. Implementations reply to the
// user themselves.
type Inbound interface {
	HandleInbound(ctx context.Context, messageID, phone, text string) (string, error)
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages,omitempty"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses,omitempty"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Webhook receives Cloud API events and hands text messages to an Inbound.
type Webhook struct {
	verifyToken string
	appSecret   string
	inbound     Inbound
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewWebhook creates a Webhook. An empty appSecret disables signature
// checks.
func NewWebhook(verifyToken, appSecret string, inbound Inbound, logger *slog.Logger) *Webhook {
	return &Webhook{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		inbound:     inbound,
		logger:      logging.Component(logger, "whatsapp_webhook"),
	}
}

// Register mounts the verification and delivery endpoints.
func (w *Webhook) Register(r gin.IRoutes) {
	r.GET(WebhookPath, w.verify)
	r.POST(WebhookPath, w.receive)
}

// Wait blocks until in-flight messages have been handled.
func (w *Webhook) Wait() {
	w.wg.Wait()
}

func (w *Webhook) verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && w.verifyToken != "" && token == w.verifyToken {
		w.logger.Info("webhook verified")
		c.String(http.StatusOK, challenge)
		return
	}
	w.logger.Warn("webhook verification failed", "mode", mode)
	c.String(http.StatusForbidden, "forbidden")
}

func (w *Webhook) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.logger.Warn("webhook payload too large", "limit", tooLarge.Limit)
			c.String(http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		c.String(http.StatusBadRequest, "bad request")
		return
	}
	if !validSignature(w.appSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		w.logger.Warn("webhook signature mismatch")
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("malformed webhook payload", "error", err)
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	// Acknowledge right away; the API retries slow deliveries.
	c.Status(http.StatusOK)

	var (
		order  []string
		byUser = map[string][]inboundMessage{}
	)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
					w.logger.Debug("ignoring non-text message", "id", msg.ID, "type", msg.Type)
					continue
				}
				phone := "+" + strings.TrimPrefix(msg.From, "+")
				if _, seen := byUser[phone]; !seen {
					order = append(order, phone)
				}
				byUser[phone] = append(byUser[phone], msg)
			}
			if n := len(change.Value.Statuses); n > 0 {
				w.logger.Debug("ignoring status updates", "count", n)
			}
		}
	}

	ctx := context.WithoutCancel(c.Request.Context())
	for _, phone := range order {
		w.dispatch(ctx, phone, byUser[phone])
	}
}

// dispatch hands one user's messages to the Inbound in delivery order.
// Different users are handled concurrently.
func (w *Webhook) dispatch(ctx context.Context, phone string, msgs []inboundMessage) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for _, msg := range msgs {
			if _, err := w.inbound.HandleInbound(ctx, msg.ID, phone, msg.Text.Body); err != nil {
				w.logger.Error("inbound message failed", "id", msg.ID, "phone", phone, "error", err)
			}
		}
	}()
}

// validSignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func validSignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
