// Package anthropic implements the Messages API adapter with tool use.
package anthropic

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
)

const (
	ProviderName   = "anthropic"
	DefaultModel   = "claude-3-5-haiku-latest"
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required anthropic-version header
	APIVersion = "2023-06-01"
)

// Config holds Anthropic client configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client represents an Anthropic API client
type Client struct {
	config     Config
	httpClient *httpclient.Client
	retryDelay time.Duration
	logger     *zap.SugaredLogger
}

// NewClient creates a new Anthropic API client
func NewClient(config Config, logger *zap.SugaredLogger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
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

func (c *Client) Name() string  { return ProviderName }
func (c *Client) Model() string { return c.config.Model }

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool { return c.config.APIKey != "" }

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.Wrap(client)
	c.retryDelay = time.Millisecond
}

// Invoke runs the prompt, answering tool_use blocks for up to req.Steps() rounds
func (c *Client) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	if !c.IsConfigured() {
		return nil, errors.WrapGateway(errors.New("Anthropic API key not configured"), ProviderName)
	}

	messages := make([]Message, 0, len(req.History)+1)
	for _, m := range req.History {
		messages = append(messages, Message{Role: string(m.Role), Content: []ContentBlock{TextBlock(m.Content)}})
	}
	messages = append(messages, Message{Role: "user", Content: []ContentBlock{TextBlock(req.UserPrompt)}})

	var tools []Tool
	for _, t := range req.Tools {
		def := t.Definition()
		schema := def.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, Tool{Name: def.Name, Description: def.Description, InputSchema: schema})
	}

	out := &ai.Response{Provider: ProviderName, Model: c.config.Model}

	for step := 1; step <= req.Steps(); step++ {
		body := MessagesRequest{
			Model:       c.config.Model,
			MaxTokens:   c.config.MaxTokens,
			Temperature: c.config.Temperature,
			System:      req.SystemPrompt,
			Messages:    messages,
			Tools:       tools,
		}

		var resp *MessagesResponse
		err := ai.Retry(ctx, c.retryDelay, func() error {
			var err error
			resp, err = c.createMessages(ctx, body)
			return err
		})
		if err != nil {
			return nil, errors.WrapGateway(err, "Anthropic API error")
		}

		out.Usage.Add(ai.Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens})
		if resp.Model != "" {
			out.Model = resp.Model
		}

		var text strings.Builder
		var uses []ContentBlock
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				uses = append(uses, block)
			}
		}
		out.Text = strings.TrimSpace(text.String())

		if resp.StopReason != "tool_use" || len(uses) == 0 {
			return out, nil
		}

		c.logger.Debugw("Model requested tools", "step", step, "count", len(uses))

		messages = append(messages, Message{Role: "assistant", Content: resp.Content})
		results := make([]ContentBlock, 0, len(uses))
		for _, use := range uses {
			result, content := ai.RunTool(ctx, req, use.ID, use.Name, use.Input)
			out.ToolResults = append(out.ToolResults, result)
			results = append(results, ContentBlock{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Content:   content,
				IsError:   result.Error != "",
			})
		}
		messages = append(messages, Message{Role: "user", Content: results})
	}

	return out, nil
}

// createMessages sends a request to the Anthropic Messages API
func (c *Client) createMessages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

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

	var messagesResp MessagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &messagesResp, nil
}
