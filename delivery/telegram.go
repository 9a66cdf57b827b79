package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/internal/httpclient"
	"github.com/teranos/peterbot/logger"
)

const DefaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig configures the Bot API adapter
type TelegramConfig struct {
	BotToken          string
	BaseURL           string
	MessagesPerSecond float64 // <= 0 = unlimited
	Burst             int
}

// Telegram delivers through the Bot API sendMessage method
type Telegram struct {
	token      string
	baseURL    string
	httpClient *httpclient.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
}

// NewTelegram creates the adapter. It returns nil when no token is configured,
// which callers treat as "no transport".
func NewTelegram(cfg TelegramConfig, log *zap.SugaredLogger) *Telegram {
	if cfg.BotToken == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramBaseURL
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Telegram{
		token:      cfg.BotToken,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpclient.New(httpclient.Options{Timeout: 30 * time.Second}),
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		logger:     logger.AddChatSymbol(log),
	}
}

// SetHTTPClient overrides the transport, for tests
func (t *Telegram) SetHTTPClient(client *http.Client) {
	t.httpClient = httpclient.Wrap(client)
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Send implements Gateway
func (t *Telegram) Send(ctx context.Context, target, text string) error {
	if target == "" {
		return errors.NewValidationError("conversation target is empty")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return errors.WrapGateway(err, "telegram rate limiter")
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: target, Text: text})
	if err != nil {
		return errors.Wrap(err, "failed to marshal sendMessage")
	}

	// The token is part of the path; keep it out of error messages
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.WrapGateway(errors.New(t.redact(err.Error())), "telegram sendMessage")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.WrapGateway(err, "telegram sendMessage: read response")
	}

	var out botResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode/100 != 2 || !out.OK {
		err := errors.Newf("status %d: %s", resp.StatusCode, out.Description)
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			err = errors.WithDetailf(err, "retry after %ds", out.Parameters.RetryAfter)
		}
		return errors.WrapGateway(err, "telegram sendMessage")
	}

	t.logger.Debugw("Message delivered", logger.FieldTarget, target, "chars", len([]rune(text)))
	return nil
}

func (t *Telegram) redact(s string) string {
	return strings.ReplaceAll(s, t.token, "<token>")
}
