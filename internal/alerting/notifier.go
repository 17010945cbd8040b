package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Notification describes a failed collection cycle.
type Notification struct {
	CycleID  string
	Tick     time.Time
	Stage    string
	Attempts int
	Kind     string
	Ticker   string
	Endpoint string
	Status   int
	Excerpt  string
	Cause    string
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

type telegramResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify calls sendMessage with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	var result telegramResult
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": n.chatID,
			"text":    renderMessage(note),
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.botToken))
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("telegram responded with status %d: %s", resp.StatusCode(), result.Description)
	}
	if !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("cycle_id", note.CycleID).
		Str("kind", note.Kind).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[pricefeed] collection cycle failed\n")
	builder.WriteString(fmt.Sprintf("Tick: %s UTC\n", note.Tick.UTC().Format(time.RFC3339)))
	if note.CycleID != "" {
		builder.WriteString(fmt.Sprintf("Cycle: %s\n", note.CycleID))
	}
	builder.WriteString(fmt.Sprintf("Stage: %s after %d attempt(s)\n", note.Stage, note.Attempts))
	if note.Kind != "" {
		builder.WriteString(fmt.Sprintf("Kind: %s\n", note.Kind))
	}
	if note.Ticker != "" {
		builder.WriteString(fmt.Sprintf("Ticker: %s\n", note.Ticker))
	}
	if note.Endpoint != "" {
		builder.WriteString(fmt.Sprintf("Endpoint: %s\n", note.Endpoint))
	}
	if note.Status != 0 {
		builder.WriteString(fmt.Sprintf("Status: %d\n", note.Status))
	}
	if note.Excerpt != "" {
		builder.WriteString(fmt.Sprintf("Body: %s\n", note.Excerpt))
	}
	if note.Cause != "" {
		builder.WriteString(note.Cause)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
