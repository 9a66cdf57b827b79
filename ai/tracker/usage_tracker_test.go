package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/peterbot/errors"
	pbtest "github.com/teranos/peterbot/internal/testing"
)

func TestTrackUsage(t *testing.T) {
	db := pbtest.CreateTestDB(t)
	tr := NewUsageTracker(db)
	ctx := context.Background()
	now := time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

	require.NoError(t, tr.TrackUsage(ctx, &ModelUsage{
		Provider: "anthropic", Model: "claude-3-5-haiku-latest", RequestAt: now,
		Duration: 1200 * time.Millisecond, PromptTokens: 100, CompletionTokens: 40, Success: true,
	}))
	msg := "status 529: overloaded"
	require.NoError(t, tr.TrackUsage(ctx, &ModelUsage{
		Provider: "anthropic", Model: "claude-3-5-haiku-latest", RequestAt: now,
		Duration: 300 * time.Millisecond, ErrorMessage: &msg,
	}))
	require.NoError(t, tr.TrackUsage(ctx, &ModelUsage{
		Provider: "openrouter", Model: "openai/gpt-4o-mini", RequestAt: now.Add(time.Second),
		Duration: 800 * time.Millisecond, PromptTokens: 90, CompletionTokens: 30, Success: true,
	}))

	stats, err := tr.GetUsageStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.SuccessfulRequests)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 190, stats.PromptTokens)
	assert.Equal(t, 70, stats.CompletionTokens)

	breakdown, err := tr.GetProviderBreakdown(ctx, now)
	require.NoError(t, err)
	require.Len(t, breakdown, 2)
	assert.Equal(t, "anthropic", breakdown[0].Provider)
	assert.Equal(t, 2, breakdown[0].Requests)
	assert.Equal(t, 1, breakdown[0].Failures)
	assert.InDelta(t, 750, breakdown[0].AvgDurationMS, 0.1)

	later, err := tr.GetUsageStats(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.TotalRequests)
	assert.Zero(t, later.SuccessRate)
}

func TestTrackUsage_NilDB(t *testing.T) {
	assert.NoError(t, NewUsageTracker(nil).TrackUsage(context.Background(), &ModelUsage{}))

	var nilTracker *UsageTracker
	assert.NoError(t, nilTracker.TrackUsage(context.Background(), &ModelUsage{}))
}

func TestTrackUsage_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO ai_model_usage").
		WillReturnError(errors.New("disk I/O error"))

	err = NewUsageTracker(db).TrackUsage(context.Background(), &ModelUsage{Provider: "openrouter", RequestAt: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.IsPersistence(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsageStats_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("database is locked"))

	_, err = NewUsageTracker(db).GetUsageStats(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsPersistence(err))
}
