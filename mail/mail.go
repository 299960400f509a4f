// Package mail provides Mailer implementations for the sendEmail action.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Message is the JSON body posted to the mail gateway
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type HTTPConfig struct {
	Endpoint   string
	APIKey     string
	From       string
	Timeout    time.Duration
	RetryCount int
}

// HTTPMailer posts messages to a transactional mail API
type HTTPMailer struct {
	client   *resty.Client
	endpoint string
	from     string
}

func NewHTTPMailer(cfg HTTPConfig) (*HTTPMailer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("mail endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	// Retry only on transport errors and server-side failures
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &HTTPMailer{client: client, endpoint: cfg.Endpoint, from: cfg.From}, nil
}

func (m *HTTPMailer) SendMail(ctx context.Context, to, subject, body string) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(Message{From: m.from, To: to, Subject: subject, Text: body}).
		Post(m.endpoint)
	if err != nil {
		return fmt.Errorf("mail gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail gateway returned %s", resp.Status())
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendMail(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "email", "to", to, "subject", subject, "body_len", len(body))
	return nil
}
