package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/errors"
)

func newTestTelegram(t *testing.T, cfg TelegramConfig, handler http.HandlerFunc) *Telegram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	if cfg.BotToken == "" {
		cfg.BotToken = "123:secret"
	}
	tg := NewTelegram(cfg, nil)
	tg.SetHTTPClient(srv.Client())
	return tg
}

func TestNewTelegram_NoToken(t *testing.T) {
	assert.Nil(t, NewTelegram(TelegramConfig{}, nil))
}

func TestTelegram_Send(t *testing.T) {
	tg := newTestTelegram(t, TelegramConfig{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:secret/sendMessage", r.URL.Path)
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "42", req.ChatID)
		assert.Equal(t, "[job 1a2b3c4d]\n\nhello", req.Text)
		w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	})

	require.NoError(t, tg.Send(context.Background(), "42", "[job 1a2b3c4d]\n\nhello"))
}

func TestTelegram_SendFailures(t *testing.T) {
	t.Run("not ok", func(t *testing.T) {
		tg := newTestTelegram(t, TelegramConfig{}, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		})

		err := tg.Send(context.Background(), "42", "hi")
		require.Error(t, err)
		assert.True(t, errors.IsGateway(err))
		assert.Contains(t, err.Error(), "chat not found")
	})

	t.Run("ok false with 200", func(t *testing.T) {
		tg := newTestTelegram(t, TelegramConfig{}, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false,"description":"Too Many Requests","parameters":{"retry_after":5}}`))
		})

		err := tg.Send(context.Background(), "42", "hi")
		require.Error(t, err)
		assert.True(t, errors.IsGateway(err))
		assert.Contains(t, errors.FlattenDetails(err), "retry after 5s")
	})

	t.Run("empty target", func(t *testing.T) {
		tg := newTestTelegram(t, TelegramConfig{}, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		assert.True(t, errors.IsValidation(tg.Send(context.Background(), "", "hi")))
	})

	t.Run("transport error hides token", func(t *testing.T) {
		tg := NewTelegram(TelegramConfig{BotToken: "999:topsecret", BaseURL: "http://127.0.0.1:1"}, nil)
		tg.SetHTTPClient(&http.Client{Timeout: time.Second})

		err := tg.Send(context.Background(), "42", "hi")
		require.Error(t, err)
		assert.True(t, errors.IsGateway(err))
		assert.NotContains(t, err.Error(), "topsecret")
	})
}

func TestTelegram_RateLimited(t *testing.T) {
	tg := newTestTelegram(t, TelegramConfig{MessagesPerSecond: 0.001, Burst: 1}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, tg.Send(context.Background(), "42", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tg.Send(ctx, "42", "second")
	require.Error(t, err)
	assert.True(t, errors.IsGateway(err))
}

func TestGatewayFunc(t *testing.T) {
	var got string
	g := GatewayFunc(func(ctx context.Context, target, text string) error {
		got = target + ":" + text
		return nil
	})
	require.NoError(t, g.Send(context.Background(), "7", "hi"))
	assert.Equal(t, "7:hi", got)
}
