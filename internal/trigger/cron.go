package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/legout/flowerpower/internal/domain"
)

// cronTrigger wraps a robfig/cron/v3 Schedule, the same parser
// ErlanBelekov/dist-job-scheduler's Dispatcher used for webhook schedules.
type cronTrigger struct {
	schedule cron.Schedule
	start    *time.Time
	end      *time.Time
	loc      *time.Location
}

func newCron(t domain.Trigger) (Computer, error) {
	hasCrontab := t.Crontab != ""
	hasFields := t.Minute != "" || t.Hour != "" || t.Day != "" || t.Month != "" || t.DayOfWeek != ""
	if hasCrontab && hasFields {
		return nil, fmt.Errorf("%w: crontab and individual fields are mutually exclusive", domain.ErrInvalidTriggerField)
	}
	if !hasCrontab && !hasFields {
		return nil, fmt.Errorf("%w: cron trigger requires crontab or at least one field", domain.ErrInvalidTriggerField)
	}

	spec := t.Crontab
	if !hasCrontab {
		minute, hour, day, month, dow := "*", "*", "*", "*", "*"
		if t.Minute != "" {
			minute = t.Minute
		}
		if t.Hour != "" {
			hour = t.Hour
		}
		if t.Day != "" {
			day = t.Day
		}
		if t.Month != "" {
			month = t.Month
		}
		if t.DayOfWeek != "" {
			dow = t.DayOfWeek
		}
		spec = strings.Join([]string{minute, hour, day, month, dow}, " ")
	}

	loc := time.UTC
	if t.Timezone != nil {
		loc = t.Timezone
	}
	spec = fmt.Sprintf("TZ=%s %s", loc.String(), spec)

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTriggerField, err)
	}

	return &cronTrigger{schedule: sched, start: t.CronStart, end: t.CronEnd, loc: loc}, nil
}

func (c *cronTrigger) Next(after time.Time) (time.Time, bool) {
	from := after
	if c.start != nil && from.Before(*c.start) {
		from = c.start.Add(-time.Second)
	}
	next := c.schedule.Next(from)
	if c.end != nil && next.After(*c.end) {
		return time.Time{}, false
	}
	return next, true
}
