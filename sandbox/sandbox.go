// Package sandbox runs model-written code on a remote executor and exposes it
// to the model as the run_code tool.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/internal/httpclient"
)

// Request is code to run
type Request struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Artifact is a file produced by the run, e.g. a rendered chart
type Artifact struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// Result is the outcome of a run. Error is the program's own failure
// (exception, non-zero exit); transport failures are returned as errors.
type Result struct {
	Stdout    string     `json:"stdout"`
	Stderr    string     `json:"stderr"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Executor runs code in isolation
type Executor interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// HTTPConfig configures HTTPExecutor
type HTTPConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	AllowPrivateIPs bool
}

// HTTPExecutor POSTs {language, code} to BaseURL/execute
type HTTPExecutor struct {
	baseURL    string
	apiKey     string
	httpClient *httpclient.Client
}

// NewHTTPExecutor returns nil when no base URL is configured
func NewHTTPExecutor(cfg HTTPConfig) *HTTPExecutor {
	if cfg.BaseURL == "" {
		return nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpclient.New(httpclient.Options{Timeout: cfg.Timeout, AllowPrivateIPs: cfg.AllowPrivateIPs}),
	}
}

// SetHTTPClient overrides the transport, for tests
func (e *HTTPExecutor) SetHTTPClient(client *http.Client) {
	e.httpClient = httpclient.Wrap(client)
}

// Run implements Executor
func (e *HTTPExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal sandbox request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sandbox request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.WrapGateway(err, "sandbox request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.WrapGateway(err, "failed to read sandbox response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.WrapGateway(errors.Newf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), "sandbox request failed")
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.WrapGateway(err, "failed to decode sandbox response")
	}
	return &result, nil
}
