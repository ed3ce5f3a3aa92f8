package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bopmarket/backend/pkg/config"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
)

const defaultSendURL = "https://api.sendgrid.com/v3/mail/send"

// Message is a single transactional email.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers transactional email. The notification dispatcher depends on
// this interface so tests can substitute a recorder.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client is a thin Sendgrid v3 mail/send wrapper.
type Client struct {
	httpClient *http.Client
	sendURL    string
	apiKey     string
	from       string
	fromName   string
	logger     *logger.Logger
}

var errAPIKeyRequired = errors.New("sendgrid api key is required")

// NewClient validates credentials and builds the Sendgrid wrapper.
func NewClient(ctx context.Context, cfg config.SendgridConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	from := strings.TrimSpace(cfg.DefaultFrom)
	if from == "" {
		return nil, errors.New("sendgrid from email is required")
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		sendURL:    defaultSendURL,
		apiKey:     apiKey,
		from:       from,
		fromName:   cfg.FromName,
		logger:     logg,
	}
	if logg != nil {
		logg.Info(ctx, "sendgrid client initialized")
	}
	return c, nil
}

// WithSendURL overrides the API endpoint. Tests point it at a local server.
func (c *Client) WithSendURL(url string) *Client {
	c.sendURL = url
	return c
}

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridRequest struct {
	Personalizations []struct {
		To []sendgridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendgridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendgridContent `json:"content"`
}

// Send posts the message to Sendgrid.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "mail recipient is required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "mail subject is required")
	}

	var content []sendgridContent
	if msg.TextBody != "" {
		content = append(content, sendgridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		content = append(content, sendgridContent{Type: "text/html", Value: msg.HTMLBody})
	}
	if len(content) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "mail body is required")
	}

	payload := sendgridRequest{
		From:    sendgridAddress{Email: c.from, Name: c.fromName},
		Subject: msg.Subject,
		Content: content,
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []sendgridAddress `json:"to"`
	}{To: []sendgridAddress{{Email: msg.To}}})

	raw, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sendgrid request encode failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sendgrid request build failed")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sendgrid request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pkgerrors.New(
			pkgerrors.CodeDependency,
			fmt.Sprintf("sendgrid rejected mail: status=%d body=%s", resp.StatusCode, string(body)),
		)
	}

	if c.logger != nil {
		logCtx := c.logger.WithField(ctx, "subject", msg.Subject)
		c.logger.Info(logCtx, "email dispatched")
	}
	return nil
}
