package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// DiscordSender posts to a Discord channel webhook. The webhook URL carries
// its own credentials, so no token is configured separately.
type DiscordSender struct {
	http *resty.Client
	url  string
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{http: newHTTP(""), url: webhookURL}
}

// Send posts the title in bold followed by the message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"content": fmt.Sprintf("**%s**\n%s", title, message)}).
		Post(d.url)
	return checkStatus("discord", resp, err)
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
