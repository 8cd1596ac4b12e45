package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DiscordOptions configures a webhook sender.
type DiscordOptions struct {
	WebhookURL string
	Username   string
	Timeout    time.Duration
	Logger     *slog.Logger
	// Client overrides the HTTP client; nil builds one with Timeout.
	Client *http.Client
}

// Discord posts messages to a Discord channel webhook.
type Discord struct {
	url      string
	username string
	client   *http.Client
	logger   *slog.Logger
}

type discordPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// NewDiscord builds a webhook sender.
func NewDiscord(opts DiscordOptions) *Discord {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		url:      opts.WebhookURL,
		username: opts.Username,
		client:   client,
		logger:   logger.With("component", "discord"),
	}
}

func (d *Discord) Send(ctx context.Context, text string) bool {
	if err := d.post(ctx, text); err != nil {
		d.logger.Error("error sending message to Discord webhook", "error", err)
		return false
	}
	d.logger.Debug("message sent to Discord")
	return true
}

func (d *Discord) post(ctx context.Context, text string) error {
	body, err := json.Marshal(discordPayload{Content: text, Username: d.username})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
