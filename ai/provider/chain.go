// Package provider assembles the configured model providers into one
// ai.Gateway that falls back in order.
package provider

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/ai/anthropic"
	"github.com/teranos/peterbot/ai/openrouter"
	"github.com/teranos/peterbot/ai/tracker"
	"github.com/teranos/peterbot/am"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/pulse/budget"
)

// Provider is a single model backend
type Provider interface {
	ai.Gateway
	Name() string
	Model() string
	IsConfigured() bool
}

// Result records one provider attempt
type Result struct {
	Provider string
	Response *ai.Response
	Err      error
	Duration time.Duration
}

// Chain tries providers in order; the first success wins
type Chain struct {
	providers []Provider
	limiter   *budget.Limiter
	usage     *tracker.UsageTracker
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewChain creates a chain over providers. limiter and usage may be nil.
func NewChain(providers []Provider, limiter *budget.Limiter, usage *tracker.UsageTracker, logger *zap.SugaredLogger) *Chain {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Chain{
		providers: providers,
		limiter:   limiter,
		usage:     usage,
		logger:    logger,
		now:       time.Now,
	}
}

// NewChainFromConfig builds the chain in ai.providers order, skipping
// providers without an API key.
func NewChainFromConfig(cfg *am.Config, db *sql.DB, log *zap.SugaredLogger) (*Chain, error) {
	var providers []Provider
	for _, name := range cfg.AI.Providers {
		var p Provider
		switch name {
		case anthropic.ProviderName:
			p = anthropic.NewClient(anthropic.Config{
				APIKey:    cfg.Anthropic.APIKey,
				BaseURL:   cfg.Anthropic.BaseURL,
				Model:     cfg.Anthropic.Model,
				MaxTokens: cfg.Anthropic.MaxTokens,
			}, log)
		case openrouter.ProviderName:
			p = openrouter.NewClient(openrouter.Config{
				APIKey:      cfg.OpenRouter.APIKey,
				BaseURL:     cfg.OpenRouter.BaseURL,
				Model:       cfg.OpenRouter.Model,
				Temperature: cfg.OpenRouter.Temperature,
				MaxTokens:   cfg.OpenRouter.MaxTokens,
			}, log)
		default:
			return nil, errors.NewValidationError("unknown ai provider %q", name)
		}

		if !p.IsConfigured() {
			if log != nil {
				log.Debugw("Skipping unconfigured AI provider", logger.FieldProvider, name)
			}
			continue
		}
		providers = append(providers, p)
	}

	return NewChain(providers, budget.NewLimiter(cfg.AI.MaxCallsPerMinute), tracker.NewUsageTracker(db), log), nil
}

// Len returns the number of usable providers
func (c *Chain) Len() int { return len(c.providers) }

// Names lists providers in fallback order
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Invoke implements ai.Gateway
func (c *Chain) Invoke(ctx context.Context, req ai.Request) (*ai.Response, error) {
	resp, _, err := c.InvokeDetailed(ctx, req)
	return resp, err
}

// InvokeDetailed is Invoke plus the record of every attempt made
func (c *Chain) InvokeDetailed(ctx context.Context, req ai.Request) (*ai.Response, []Result, error) {
	if len(c.providers) == 0 {
		return nil, nil, errors.WithHint(
			errors.WrapGateway(errors.New("no AI provider configured"), "cannot invoke model"),
			"set anthropic.api_key or openrouter.api_key")
	}

	var attempts []Result
	var errs []error

	for _, p := range c.providers {
		if err := c.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}

		start := c.now()
		resp, err := p.Invoke(ctx, req)
		result := Result{Provider: p.Name(), Response: resp, Err: err, Duration: c.now().Sub(start)}
		attempts = append(attempts, result)
		c.record(ctx, p, start, result)

		if err == nil {
			return resp, attempts, nil
		}

		c.logger.Warnw("AI provider failed",
			logger.FieldProvider, p.Name(),
			logger.FieldModel, p.Model(),
			logger.FieldError, err.Error())
		errs = append(errs, errors.Wrapf(err, "%s", p.Name()))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, attempts, errors.WrapGateway(errors.Join(errs...), "all AI providers failed")
}

func (c *Chain) record(ctx context.Context, p Provider, start time.Time, r Result) {
	if c.usage == nil {
		return
	}

	u := &tracker.ModelUsage{
		Provider:  r.Provider,
		Model:     p.Model(),
		RequestAt: start,
		Duration:  r.Duration,
		Success:   r.Err == nil,
	}
	if r.Response != nil {
		u.Model = r.Response.Model
		u.PromptTokens = r.Response.Usage.PromptTokens
		u.CompletionTokens = r.Response.Usage.CompletionTokens
	}
	if r.Err != nil {
		msg := r.Err.Error()
		u.ErrorMessage = &msg
	}

	if err := c.usage.TrackUsage(context.WithoutCancel(ctx), u); err != nil {
		c.logger.Warnw("Failed to record AI usage", logger.FieldError, err.Error())
	}
}
