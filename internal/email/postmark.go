package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	postmarkURL    = "https://api.postmarkapp.com/email"
	defaultTimeout = 10 * time.Second
)

// Client sends account mail through the Postmark HTTP API.
type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

func (c *Client) SendActivation(ctx context.Context, toEmail, token string) error {
	link := ActivationLink(c.baseURL, token)
	return c.send(ctx, toEmail, "Activate your Lingo account", "activate your account", link)
}

func (c *Client) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	link := PasswordResetLink(c.baseURL, token)
	return c.send(ctx, toEmail, "Reset your Lingo password", "reset your password", link)
}

func (c *Client) send(ctx context.Context, toEmail, subject, action, link string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	textBody := fmt.Sprintf("Click the link below to %s:\n\n%s\n", action, link)
	htmlBody := fmt.Sprintf(`<p>Click the link below to %s:</p><p><a href="%s">%s</a></p>`, action, link, action)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

func ActivationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/activate/%s", baseURL, token)
}

func PasswordResetLink(baseURL, token string) string {
	return fmt.Sprintf("%s/password-reset/%s", baseURL, token)
}
