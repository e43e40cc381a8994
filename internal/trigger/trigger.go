// Package trigger computes the next fire time for a domain.Trigger. Each
// kind gets its own Go type implementing Computer, mirroring the
// BaseTrigger/APSTrigger family in the original source's
// worker/apscheduler/trigger.py: a closed keyword set per kind, validated
// at construction, then a pure next-fire-time computation.
//
// Cron relies on ErlanBelekov/dist-job-scheduler's existing dependency on
// robfig/cron/v3, the same library its Dispatcher.computeNext used for
// webhook schedules.
package trigger

import (
	"fmt"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

// Computer returns the next fire time strictly after 'after', or ok=false
// when the trigger has no more fire times (e.g. past CronEnd/IntervalEnd,
// or a Date trigger already consumed).
type Computer interface {
	Next(after time.Time) (next time.Time, ok bool)
}

// New validates t and returns the Computer for its Kind.
func New(t domain.Trigger) (Computer, error) {
	switch t.Kind {
	case domain.TriggerCron:
		return newCron(t)
	case domain.TriggerInterval:
		return newInterval(t)
	case domain.TriggerCalendarInterval:
		return newCalendarInterval(t)
	case domain.TriggerDate:
		return newDate(t)
	default:
		return nil, fmt.Errorf("%w: unknown trigger kind %q", domain.ErrInvalidTrigger, t.Kind)
	}
}
