// Package openrouter talks to OpenAI-compatible chat completion endpoints
// (OpenRouter by default) and runs the tool-calling loop.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/internal/httpclient"
	"github.com/teranos/peterbot/internal/util"
)

const (
	ProviderName   = "openrouter"
	DefaultModel   = "openai/gpt-4o-mini"
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	AppTitle       = "peterbot"

	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1000
)

// Config holds client configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Client is an OpenRouter chat completions client
type Client struct {
	config     Config
	httpClient *httpclient.Client
	retryDelay time.Duration
	logger     *zap.SugaredLogger
}

// NewClient creates a client, filling unset config with defaults
func NewClient(config Config, logger *zap.SugaredLogger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		config.Temperature = util.Ptr(DefaultTemperature)
	}
	if config.MaxTokens == nil {
		config.MaxTokens = util.Ptr(DefaultMaxTokens)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		config:     config,
		httpClient: httpclient.New(httpclient.Options{}),
		retryDelay: time.Second,
		logger:     logger,
	}
}

// Name identifies the provider in usage records and logs
func (c *Client) Name() string { return ProviderName }

// Model returns the configured model id
func (c *Client) Model() string { return c.config.Model }

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool { return c.config.APIKey != "" }

// SetHTTPClient overrides the transport, for tests against httptest servers
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.Wrap(client)
	c.retryDelay = time.Millisecond
}

// Invoke runs the prompt, executing requested tools for up to req.Steps() rounds
func (c *Client) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if !c.IsConfigured() {
		return nil, errors.WrapGateway(errors.New("OpenRouter API key not configured"), ProviderName)
	}

	messages := make([]Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, Message{Role: "user", Content: req.UserPrompt})

	var tools []Tool
	for _, t := range req.Tools {
		def := t.Definition()
		tools = append(tools, Tool{Type: "function", Function: FunctionDef{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		}})
	}

	out := &ai.Response{Provider: ProviderName, Model: c.config.Model}

	for step := 1; step <= req.Steps(); step++ {
		body := ChatCompletionRequest{
			Model:       c.config.Model,
			Messages:    messages,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
			Tools:       tools,
		}

		var resp *ChatCompletionResponse
		err := ai.Retry(ctx, c.retryDelay, func() error {
			var err error
			resp, err = c.CreateChatCompletion(ctx, body)
			return err
		})
		if err != nil {
			return nil, errors.WrapGateway(err, "OpenRouter API error")
		}
		if len(resp.Choices) == 0 {
			return nil, errors.WrapGateway(errors.New("no choices in response"), "OpenRouter API error")
		}

		out.Usage.Add(ai.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens})
		if resp.Model != "" {
			out.Model = resp.Model
		}

		msg := resp.Choices[0].Message
		out.Text = strings.TrimSpace(msg.Content)
		if len(msg.ToolCalls) == 0 {
			return out, nil
		}

		c.logger.Debugw("Model requested tools", "step", step, "count", len(msg.ToolCalls))

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result, content := ai.RunTool(ctx, req, call.ID, call.Function.Name, json.RawMessage(call.Function.Arguments))
			out.ToolResults = append(out.ToolResults, result)
			messages = append(messages, Message{Role: "tool", ToolCallID: call.ID, Content: content})
		}
	}

	// Out of steps while the model still wanted tools; return what it said last
	return out, nil
}

// CreateChatCompletion sends one chat completion request
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("X-Title", AppTitle)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ai.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var completion ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	if completion.Error != nil {
		return nil, errors.Newf("provider error: %s", completion.Error.Message)
	}
	return &completion, nil
}
