package email

import (
	"context"
	"log/slog"
)

// LogNotifier writes links to the log instead of sending mail. It is used
// when no Postmark token is configured.
type LogNotifier struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogNotifier(baseURL string, logger *slog.Logger) *LogNotifier {
	return &LogNotifier{baseURL: baseURL, logger: logger}
}

func (n *LogNotifier) SendActivation(ctx context.Context, toEmail, token string) error {
	n.logger.InfoContext(ctx, "activation email", "to", toEmail, "link", ActivationLink(n.baseURL, token))
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	n.logger.InfoContext(ctx, "password reset email", "to", toEmail, "link", PasswordResetLink(n.baseURL, token))
	return nil
}
