package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stackwatch/internal/config"
	"stackwatch/internal/ports"
)

// telegramMessageLimit is the Bot API hard cap per sendMessage call.
const telegramMessageLimit = 4096

// Notifier delivers criticality digests to a Telegram chat via the bot API.
type Notifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier wires the bot token and chat identifier from config.
func NewNotifier(cfg config.TelegramConfig) *Notifier {
	return &Notifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// PublishDigest posts the digest as plain text, chunked to the API limit.
func (n *Notifier) PublishDigest(ctx context.Context, digest string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	for _, chunk := range splitDigest(digest, telegramMessageLimit) {
		if err := n.sendMessage(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// splitDigest cuts the digest into API-sized chunks on line boundaries.
func splitDigest(digest string, limit int) []string {
	if len(digest) <= limit {
		return []string{digest}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(digest, "\n") {
		if current.Len()+len(line) > limit && current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
