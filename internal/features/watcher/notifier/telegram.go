package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	APIBase  string
	Token    string
	ChatID   string
	Interval time.Duration
	Timeout  time.Duration
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Telegram posts listings to one chat through the Bot API. Messages are
// paced so a large batch does not trip the chat's flood limit.
type Telegram struct {
	config     TelegramConfig
	client     *http.Client
	limiter    *rate.Limiter
	logger     *core.Logger
	retryDelay time.Duration
}

func NewTelegram(config TelegramConfig, logger *core.Logger) *Telegram {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if config.Interval > 0 {
		limit = rate.Every(config.Interval)
	}
	return &Telegram{
		config:     config,
		client:     &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Deliver sends one listing, retrying transient failures twice.
func (t *Telegram) Deliver(ctx context.Context, record models.ListingRecord) error {
	text, err := NewMessage(record).TelegramHTML()
	if err != nil {
		return fmt.Errorf("failed to render telegram message: %w", err)
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    t.config.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(t.retryDelay), 2), ctx)
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		if err := t.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := t.send(ctx, body)
		if err != nil {
			t.logger.Warn("Telegram send failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, body []byte) error {
	endpoint := strings.TrimRight(t.config.APIBase, "/") + "/bot" + t.config.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(t.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return t.redact(err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && result.OK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if wait := time.Duration(result.Parameters.RetryAfter) * time.Second; wait > 0 {
			t.logger.Info("Telegram asked to slow down", "retry_after", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return backoff.Permanent(ctx.Err())
			case <-timer.C:
			}
		}
		return fmt.Errorf("telegram API status %d: %s", resp.StatusCode, result.Description)
	default:
		return backoff.Permanent(fmt.Errorf("telegram API status %d: %s", resp.StatusCode, result.Description))
	}
}

// redact strips the request URL from transport errors; it carries the bot token.
func (t *Telegram) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if t.config.Token != "" && strings.Contains(err.Error(), t.config.Token) {
		return fmt.Errorf("telegram request failed: %s", strings.ReplaceAll(err.Error(), t.config.Token, "<redacted>"))
	}
	return fmt.Errorf("telegram request failed: %w", err)
}
