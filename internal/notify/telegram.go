// Package notify delivers offer notifications to users through the Telegram
// Bot API. Delivery is a single attempt per call; the caller decides what a
// failure means for dedup (an undelivered offer is simply not marked seen).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/flymate-worker/internal/domain"
)

// ErrDelivery is returned when Telegram did not accept a message.
var ErrDelivery = errors.New("notification delivery failed")

const defaultTimeout = 15 * time.Second

// TelegramConfig configures a Telegram notifier.
type TelegramConfig struct {
	BaseURL string // e.g. https://api.telegram.org
	Token   string
	Timeout time.Duration

	Formatter  Formatter
	HTTPClient *http.Client // optional transport override (tests)
}

// Telegram sends HTML messages via sendMessage. Safe for concurrent use.
type Telegram struct {
	http    *resty.Client
	baseURL string
	token   string
	format  Formatter
}

// NewTelegram builds a notifier from cfg.
func NewTelegram(cfg TelegramConfig) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var rc *resty.Client
	if cfg.HTTPClient != nil {
		hc := *cfg.HTTPClient // SetTimeout below must not leak into a shared client
		rc = resty.NewWithClient(&hc)
	} else {
		rc = resty.New()
	}
	rc.SetTimeout(timeout).SetRetryCount(0)

	return &Telegram{
		http:    rc,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		format:  cfg.Formatter,
	}
}

// Notify formats n and sends it to the subscription's owner.
func (t *Telegram) Notify(ctx context.Context, sub domain.Subscription, n domain.Notice) error {
	return t.Send(ctx, sub.UserID, t.format.Format(sub, n))
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts text to chatID with HTML parse mode.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) (err error) {
	tr := otel.Tracer("notify/Telegram")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
		}
		span.End()
	}()

	resp, herr := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(sendMessageRequest{
			ChatID:                chatID,
			Text:                  text,
			ParseMode:             "HTML",
			DisableWebPagePreview: true,
		}).
		Post(t.baseURL + "/bot" + t.token + "/sendMessage")
	if herr != nil {
		return fmt.Errorf("%w: %s", ErrDelivery, t.redact(herr.Error()))
	}

	var body apiResponse
	derr := json.Unmarshal(resp.Body(), &body)
	if resp.StatusCode() != http.StatusOK || !body.OK {
		desc := body.Description
		if desc == "" {
			desc = strings.TrimSpace(string(resp.Body()))
		}
		if derr != nil {
			desc = fmt.Sprintf("%s (undecodable response: %v)", desc, derr)
		}
		return fmt.Errorf("%w: status %d: %s", ErrDelivery, resp.StatusCode(), t.redact(desc))
	}
	return nil
}

// redact strips the bot token, which is part of every request URL.
func (t *Telegram) redact(s string) string {
	if t.token == "" {
		return s
	}
	return strings.ReplaceAll(s, t.token, "<redacted>")
}
