// Package whatsapp talks to the WhatsApp Cloud API: it sends text messages
// and receives inbound messages through the webhook.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/notexe/remindme/internal/config"
	"github.com/notexe/remindme/internal/logging"
)

// MaxMessageLength is the Cloud API limit for a text body.
const MaxMessageLength = 4096

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
	defaultTimeout    = 15 * time.Second
)

// Sender sends text messages from one WhatsApp Business number.
type Sender struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Sender from cfg.
func New(cfg config.WhatsAppConfig, logger *slog.Logger) (*Sender, error) {
	if !cfg.Enabled() {
		return nil, errors.New("whatsapp phone_number_id and access_token are required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Sender{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", baseURL, version, cfg.PhoneNumberID),
		token:    cfg.AccessToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "whatsapp"),
	}, nil
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// Send posts text to the recipient. Empty text is a no-op and long text is
// truncated to the API limit.
func (s *Sender) Send(ctx context.Context, to, text string) error {
	if text == "" {
		return nil
	}
	if len(text) > MaxMessageLength {
		text = text[:MaxMessageLength-3] + "..."
	}

	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API error: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s.logger.Debug("message sent", "to", to, "status", resp.StatusCode)
	return nil
}
