package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts through the Telegram Bot API.
type TelegramSender struct {
	http   *resty.Client
	token  string
	chatID string
}

// NewTelegramSender creates a TelegramSender for a bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return newTelegramSender(telegramAPI, token, chatID)
}

func newTelegramSender(baseURL, token, chatID string) *TelegramSender {
	return &TelegramSender{http: newHTTP(baseURL), token: token, chatID: chatID}
}

// Send calls the Bot API sendMessage method with Markdown parse mode, the
// title in bold on the first line and the message below it. Any non-2xx
// reply is returned as an error quoting the start of the response body.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", title, message),
			"parse_mode": "Markdown",
		}).
		Post("/bot{token}/sendMessage")
	return checkStatus("telegram", resp, err)
}

// Name returns "telegram".
func (t *TelegramSender) Name() string {
	return "telegram"
}
