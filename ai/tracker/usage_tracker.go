// Package tracker records every model call attempt in the ai_model_usage table.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/peterbot/errors"
)

// ModelUsage is one provider attempt
type ModelUsage struct {
	ID               int64         `json:"id"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	RequestAt        time.Time     `json:"requestAt"`
	Duration         time.Duration `json:"-"`
	PromptTokens     int           `json:"promptTokens"`
	CompletionTokens int           `json:"completionTokens"`
	Success          bool          `json:"success"`
	ErrorMessage     *string       `json:"errorMessage,omitempty"`
}

// UsageTracker writes and summarises ModelUsage rows
type UsageTracker struct {
	db *sql.DB
}

// NewUsageTracker creates a tracker. A nil db yields a tracker that records nothing.
func NewUsageTracker(db *sql.DB) *UsageTracker {
	return &UsageTracker{db: db}
}

// TrackUsage inserts one attempt
func (t *UsageTracker) TrackUsage(ctx context.Context, u *ModelUsage) error {
	if t == nil || t.db == nil {
		return nil
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO ai_model_usage (
			provider, model, request_at, duration_ms,
			prompt_tokens, completion_tokens, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Provider, u.Model, u.RequestAt.UnixMilli(), u.Duration.Milliseconds(),
		u.PromptTokens, u.CompletionTokens, u.Success, u.ErrorMessage,
	)
	return errors.WrapPersistence(err, "failed to record model usage")
}

// UsageStats aggregates attempts since a point in time
type UsageStats struct {
	TotalRequests      int     `json:"totalRequests"`
	SuccessfulRequests int     `json:"successfulRequests"`
	SuccessRate        float64 `json:"successRate"`
	PromptTokens       int     `json:"promptTokens"`
	CompletionTokens   int     `json:"completionTokens"`
}

// GetUsageStats summarises attempts made at or after since
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	var stats UsageStats
	err := t.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0)
		FROM ai_model_usage
		WHERE request_at >= ?`, since.UnixMilli(),
	).Scan(&stats.TotalRequests, &stats.SuccessfulRequests, &stats.PromptTokens, &stats.CompletionTokens)
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// ProviderBreakdown is usage for one provider/model pair
type ProviderBreakdown struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Requests      int     `json:"requests"`
	Failures      int     `json:"failures"`
	AvgDurationMS float64 `json:"avgDurationMs"`
}

// GetProviderBreakdown groups attempts since a point in time, busiest first
func (t *UsageTracker) GetProviderBreakdown(ctx context.Context, since time.Time) ([]ProviderBreakdown, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*),
			COUNT(CASE WHEN success = 0 THEN 1 END),
			COALESCE(AVG(duration_ms), 0)
		FROM ai_model_usage
		WHERE request_at >= ?
		GROUP BY provider, model
		ORDER BY COUNT(*) DESC, provider ASC`, since.UnixMilli())
	if err != nil {
		return nil, errors.WrapPersistence(err, "failed to query provider breakdown")
	}
	defer rows.Close()

	var out []ProviderBreakdown
	for rows.Next() {
		var b ProviderBreakdown
		if err := rows.Scan(&b.Provider, &b.Model, &b.Requests, &b.Failures, &b.AvgDurationMS); err != nil {
			return nil, errors.WrapPersistence(err, "failed to scan provider breakdown")
		}
		out = append(out, b)
	}
	return out, errors.WrapPersistence(rows.Err(), "failed to iterate provider breakdown")
}
