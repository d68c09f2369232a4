package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification kinds.
const (
	KindHarvestLoss   = "harvest_loss"
	KindHarvestFailed = "harvest_failed"
	KindTendFailed    = "tend_failed"
)

// Notification carries alert context for one controller event.
type Notification struct {
	Kind        string
	OccurredAt  time.Time
	Profit      decimal.Decimal
	Loss        decimal.Decimal
	DebtPayment decimal.Decimal
	Message     string
}

// Notifier defines the alert delivery interface.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
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

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("kind", note.Kind).Time("occurred_at", note.OccurredAt).Msg("alert dispatched")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[loankeeper]\n")
	builder.WriteString(fmt.Sprintf("Event: %s\n", note.Kind))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.OccurredAt.UTC().Format(time.RFC3339)))
	switch note.Kind {
	case KindHarvestLoss:
		builder.WriteString(fmt.Sprintf("Profit: %s\n", note.Profit.String()))
		builder.WriteString(fmt.Sprintf("Loss: %s\n", note.Loss.String()))
		builder.WriteString(fmt.Sprintf("Debt payment: %s\n", note.DebtPayment.String()))
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
