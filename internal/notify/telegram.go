package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reminder-engine/internal/reminder"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSink sends alerts through the Telegram Bot API. Sends are rate
// limited so a burst of due reminders does not trip the API's flood control.
type TelegramSink struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	timeout  time.Duration
}

type TelegramOption func(*TelegramSink)

// WithTelegramBaseURL points the sink at another API host, e.g. a test server.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(t *TelegramSink) { t.baseURL = strings.TrimRight(u, "/") }
}

func WithTelegramClient(c *http.Client) TelegramOption {
	return func(t *TelegramSink) { t.client = c }
}

func NewTelegramSink(botToken, chatID string, perMinute int, logger *zap.Logger, opts ...TelegramOption) *TelegramSink {
	if perMinute <= 0 {
		perMinute = 20
	}
	t := &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		logger:   logger.Named("telegram"),
		timeout:  time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TelegramSink) OnUpcoming(r reminder.Reminder, minutesLeft int) {
	text := fmt.Sprintf("⏰ <b>%s</b> is due in %d min (%s %s)",
		html.EscapeString(r.Title), minutesLeft, r.DueDate, r.DueTime)
	t.notify(r, text)
}

func (t *TelegramSink) OnDue(r reminder.Reminder) {
	text := fmt.Sprintf("🔔 <b>%s</b> is due now (%s %s)",
		html.EscapeString(r.Title), r.DueDate, r.DueTime)
	t.notify(r, text)
}

func (t *TelegramSink) notify(r reminder.Reminder, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.SendMessage(ctx, text); err != nil {
		t.logger.Warn("telegram notification failed", zap.String("reminder_id", r.ID), zap.Error(err))
	}
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// SendMessage posts text to the configured chat.
func (t *TelegramSink) SendMessage(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit: %w", err)
	}

	body, err := json.Marshal(telegramSendRequest{ChatID: t.chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read telegram response: %w", err)
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return fmt.Errorf("failed to parse telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram API error: %s", tgResp.Description)
	}
	return nil
}
