package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/errors"
)

type clockTool struct{ fail bool }

func (clockTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{Name: "clock", Description: "Current time"}
}

func (c clockTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if c.fail {
		return nil, errors.New("clock unavailable")
	}
	return map[string]string{"time": "09:00"}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	c.SetHTTPClient(srv.Client())
	return c
}

func reply(t *testing.T, w http.ResponseWriter, resp MessagesResponse) {
	t.Helper()
	resp.Model = "claude-3-5-haiku-20241022"
	resp.Usage = Usage{InputTokens: 12, OutputTokens: 4}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, 4096, c.config.MaxTokens)
	assert.Equal(t, DefaultBaseURL, c.config.BaseURL)
	assert.False(t, c.IsConfigured())
}

func TestInvoke_Text(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req MessagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "persona", req.System)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "assistant", req.Messages[0].Role)
		assert.Equal(t, "what now?", req.Messages[1].Content[0].Text)

		reply(t, w, MessagesResponse{
			Content:    []ContentBlock{TextBlock("Coffee.")},
			StopReason: "end_turn",
		})
	})

	resp, err := c.Invoke(context.Background(), ai.Request{
		SystemPrompt: "persona",
		History:      []ai.Message{{Role: ai.RoleAssistant, Content: "Morning!"}},
		UserPrompt:   "what now?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Coffee.", resp.Text)
	assert.Equal(t, "claude-3-5-haiku-20241022", resp.Model)
	assert.Equal(t, ai.Usage{PromptTokens: 12, CompletionTokens: 4}, resp.Usage)
}

func TestInvoke_ToolUse(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req MessagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.JSONEq(t, `{"type":"object","properties":{}}`, string(req.Tools[0].InputSchema))

		if atomic.AddInt32(&calls, 1) == 1 {
			reply(t, w, MessagesResponse{
				Content: []ContentBlock{
					TextBlock("Checking."),
					{Type: "tool_use", ID: "toolu_1", Name: "clock", Input: json.RawMessage(`{}`)},
				},
				StopReason: "tool_use",
			})
			return
		}

		last := req.Messages[len(req.Messages)-1]
		require.Equal(t, "user", last.Role)
		require.Len(t, last.Content, 1)
		assert.Equal(t, "tool_result", last.Content[0].Type)
		assert.Equal(t, "toolu_1", last.Content[0].ToolUseID)
		assert.True(t, last.Content[0].IsError)
		assert.Contains(t, last.Content[0].Content, "clock unavailable")

		reply(t, w, MessagesResponse{Content: []ContentBlock{TextBlock("No clock.")}, StopReason: "end_turn"})
	})

	resp, err := c.Invoke(context.Background(), ai.Request{UserPrompt: "time?", Tools: []ai.Tool{clockTool{fail: true}}, MaxSteps: 5})
	require.NoError(t, err)
	assert.Equal(t, "No clock.", resp.Text)
	require.Len(t, resp.ToolResults, 1)
	assert.Equal(t, "clock unavailable", resp.ToolResults[0].Error)
	assert.Equal(t, ai.Usage{PromptTokens: 24, CompletionTokens: 8}, resp.Usage)
}

func TestInvoke_OverloadedIsRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
			return
		}
		reply(t, w, MessagesResponse{Content: []ContentBlock{TextBlock("ok")}, StopReason: "end_turn"})
	})

	resp, err := c.Invoke(context.Background(), ai.Request{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvoke_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	})

	_, err := c.Invoke(context.Background(), ai.Request{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsGateway(err))
	assert.Contains(t, err.Error(), "status 401")
}
