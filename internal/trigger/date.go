package trigger

import (
	"fmt"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

// dateTrigger fires exactly once, mirroring apscheduler's DateTrigger.
type dateTrigger struct {
	runAt time.Time
}

func newDate(t domain.Trigger) (Computer, error) {
	if t.RunAt.IsZero() {
		return nil, fmt.Errorf("%w: date trigger requires run_at", domain.ErrInvalidTriggerField)
	}
	return &dateTrigger{runAt: t.RunAt}, nil
}

func (d *dateTrigger) Next(after time.Time) (time.Time, bool) {
	if !d.runAt.After(after) {
		return time.Time{}, false
	}
	return d.runAt, true
}
