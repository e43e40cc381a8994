package trigger

import (
	"fmt"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

// intervalTrigger fires every fixed duration starting from an anchor
// (IntervalStart, or one period after construction when unset),
// mirroring apscheduler's IntervalTrigger.
type intervalTrigger struct {
	period time.Duration
	anchor time.Time
	end    *time.Time
}

func newInterval(t domain.Trigger) (Computer, error) {
	period := time.Duration(t.Weeks)*7*24*time.Hour +
		time.Duration(t.Days)*24*time.Hour +
		time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Seconds)*time.Second +
		time.Duration(t.Microseconds)*time.Microsecond

	if period <= 0 {
		return nil, fmt.Errorf("%w: interval trigger requires a positive period", domain.ErrInvalidTriggerField)
	}

	anchor := time.Now().UTC().Add(period)
	if t.IntervalStart != nil {
		anchor = *t.IntervalStart
	}

	return &intervalTrigger{period: period, anchor: anchor, end: t.IntervalEnd}, nil
}

func (i *intervalTrigger) Next(after time.Time) (time.Time, bool) {
	if after.Before(i.anchor) {
		if i.end != nil && i.anchor.After(*i.end) {
			return time.Time{}, false
		}
		return i.anchor, true
	}

	elapsed := after.Sub(i.anchor)
	n := elapsed/i.period + 1
	next := i.anchor.Add(n * i.period)
	if i.end != nil && next.After(*i.end) {
		return time.Time{}, false
	}
	return next, true
}
