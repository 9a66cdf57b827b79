package schedule

import (
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/peterbot/errors"
)

// Horizon is how far ahead CronNext searches before giving up
const Horizon = 4 * 365 * 24 * time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// dowRange7 matches a day-of-week range ending at 7, e.g. "5-7"
var dowRange7 = regexp.MustCompile(`^([0-6])-7$`)

// ParseCron parses a five-field expression. Day-of-week 7 is read as Sunday.
func ParseCron(expr string) (*cron.SpecSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.NewInvalidScheduleError("cron expression %q has %d fields, want 5", expr, len(fields))
	}
	fields[4] = normalizeDow(fields[4])

	sched, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "invalid cron expression %q", expr), errors.ErrInvalidSchedule)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, errors.AssertionFailedf("unexpected schedule type %T", sched)
	}
	return spec, nil
}

// CronNext returns the first minute strictly after from that matches expr,
// evaluated in from's location. When both day-of-month and day-of-week are
// restricted, either may match.
func CronNext(expr string, from time.Time) (time.Time, error) {
	spec, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}

	next := spec.Next(from)
	if next.IsZero() || next.Sub(from) > Horizon {
		return time.Time{}, errors.NewInvalidScheduleError("cron expression %q never fires within %s of %s",
			expr, "4 years", from.Format(time.RFC3339))
	}
	return next, nil
}

// ValidateCron reports a malformed expression as a validation error
func ValidateCron(expr string) error {
	if _, err := CronNext(expr, time.Now()); err != nil {
		return errors.Mark(err, errors.ErrValidation)
	}
	return nil
}

func normalizeDow(field string) string {
	parts := strings.Split(field, ",")
	for i, p := range parts {
		switch {
		case p == "7":
			parts[i] = "0"
		case dowRange7.MatchString(p):
			parts[i] = dowRange7.ReplaceAllString(p, "$1-6,0")
		}
	}
	return strings.Join(parts, ",")
}
