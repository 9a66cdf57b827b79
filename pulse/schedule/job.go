// Package schedule turns recurring cron schedules into queued jobs.
package schedule

import (
	"encoding/json"
	"time"
)

// Schedule is a recurring trigger. Each firing enqueues a task job whose
// input is Prompt.
//
// While Enabled, NextRunAt is a result of CronNext(ParsedCron, t) for some
// earlier t. The Ticker is the only writer of NextRunAt and LastRunAt.
type Schedule struct {
	ID              string
	Description     string
	NaturalSchedule string // as the user wrote it; display only
	ParsedCron      string // five fields
	Prompt          string
	Enabled         bool
	LastRunAt       *time.Time
	NextRunAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type scheduleJSON struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	NaturalSchedule string `json:"naturalSchedule"`
	ParsedCron      string `json:"parsedCron"`
	Prompt          string `json:"prompt"`
	Enabled         bool   `json:"enabled"`
	LastRunAt       *int64 `json:"lastRunAt"`
	NextRunAt       int64  `json:"nextRunAt"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// MarshalJSON encodes timestamps as epoch milliseconds
func (s *Schedule) MarshalJSON() ([]byte, error) {
	out := scheduleJSON{
		ID:              s.ID,
		Description:     s.Description,
		NaturalSchedule: s.NaturalSchedule,
		ParsedCron:      s.ParsedCron,
		Prompt:          s.Prompt,
		Enabled:         s.Enabled,
		NextRunAt:       s.NextRunAt.UnixMilli(),
		CreatedAt:       s.CreatedAt.UnixMilli(),
		UpdatedAt:       s.UpdatedAt.UnixMilli(),
	}
	if s.LastRunAt != nil {
		ms := s.LastRunAt.UnixMilli()
		out.LastRunAt = &ms
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var in scheduleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Schedule{
		ID:              in.ID,
		Description:     in.Description,
		NaturalSchedule: in.NaturalSchedule,
		ParsedCron:      in.ParsedCron,
		Prompt:          in.Prompt,
		Enabled:         in.Enabled,
		NextRunAt:       time.UnixMilli(in.NextRunAt),
		CreatedAt:       time.UnixMilli(in.CreatedAt),
		UpdatedAt:       time.UnixMilli(in.UpdatedAt),
	}
	if in.LastRunAt != nil {
		t := time.UnixMilli(*in.LastRunAt)
		s.LastRunAt = &t
	}
	return nil
}
