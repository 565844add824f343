package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// telegramAPI is the Bot API sendMessage endpoint template.
const telegramAPI = "https://api.telegram.org/bot%s/sendMessage"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
	logger *slog.Logger
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string, logger *slog.Logger) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: senderTimeout},
		logger: logger.With(slog.String("component", "notify_telegram")),
	}
}

// Send posts a message to the configured Telegram chat. The title is rendered
// in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}

	if err := postJSON(ctx, t.client, fmt.Sprintf(telegramAPI, t.token), payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	t.logger.DebugContext(ctx, "notification delivered", slog.String("title", title))
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
