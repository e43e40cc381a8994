package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/legout/flowerpower/internal/domain"
)

// triggerJSON mirrors domain.Trigger's variant fields for storage. A
// single JSON column holds whichever fields the trigger Kind populates,
// rather than one SQL column per field, since only one variant is ever in
// play at a time. The start/end bounds (CronStart/CronEnd,
// IntervalStart/IntervalEnd, CalStartDate/CalEndDate) and CalTimezone are
// not stored.
type triggerJSON struct {
	Crontab   string `json:"crontab,omitempty"`
	Minute    string `json:"minute,omitempty"`
	Hour      string `json:"hour,omitempty"`
	Day       string `json:"day,omitempty"`
	Month     string `json:"month,omitempty"`
	DayOfWeek string `json:"dayOfWeek,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	Weeks        int `json:"weeks,omitempty"`
	Days         int `json:"days,omitempty"`
	Hours        int `json:"hours,omitempty"`
	Minutes      int `json:"minutes,omitempty"`
	Seconds      int `json:"seconds,omitempty"`
	Microseconds int `json:"microseconds,omitempty"`

	Years    int `json:"years,omitempty"`
	Months   int `json:"months,omitempty"`
	CalWeeks int `json:"calWeeks,omitempty"`
	CalDays  int `json:"calDays,omitempty"`
	AtHour   int `json:"atHour,omitempty"`
	AtMinute int `json:"atMinute,omitempty"`
	AtSecond int `json:"atSecond,omitempty"`

	RunAt *int64 `json:"runAt,omitempty"`
}

func encodeTriggerJSON(t domain.Trigger) ([]byte, error) {
	tj := triggerJSON{
		Crontab: t.Crontab, Minute: t.Minute, Hour: t.Hour, Day: t.Day, Month: t.Month, DayOfWeek: t.DayOfWeek,
		Weeks: t.Weeks, Days: t.Days, Hours: t.Hours, Minutes: t.Minutes, Seconds: t.Seconds, Microseconds: t.Microseconds,
		Years: t.Years, Months: t.Months, CalWeeks: t.CalWeeks, CalDays: t.CalDays,
		AtHour: t.AtHour, AtMinute: t.AtMinute, AtSecond: t.AtSecond,
	}
	if t.Timezone != nil {
		tj.Timezone = t.Timezone.String()
	}
	if !t.RunAt.IsZero() {
		ms := t.RunAt.UnixMilli()
		tj.RunAt = &ms
	}
	b, err := json.Marshal(tj)
	if err != nil {
		return nil, fmt.Errorf("encode trigger: %w", err)
	}
	return b, nil
}

func decodeTriggerJSON(raw []byte, t *domain.Trigger) error {
	if len(raw) == 0 {
		return nil
	}
	var tj triggerJSON
	if err := json.Unmarshal(raw, &tj); err != nil {
		return fmt.Errorf("decode trigger: %w", err)
	}
	t.Crontab, t.Minute, t.Hour, t.Day, t.Month, t.DayOfWeek = tj.Crontab, tj.Minute, tj.Hour, tj.Day, tj.Month, tj.DayOfWeek
	t.Weeks, t.Days, t.Hours, t.Minutes, t.Seconds, t.Microseconds = tj.Weeks, tj.Days, tj.Hours, tj.Minutes, tj.Seconds, tj.Microseconds
	t.Years, t.Months, t.CalWeeks, t.CalDays = tj.Years, tj.Months, tj.CalWeeks, tj.CalDays
	t.AtHour, t.AtMinute, t.AtSecond = tj.AtHour, tj.AtMinute, tj.AtSecond
	if tj.Timezone != "" {
		if loc, err := time.LoadLocation(tj.Timezone); err == nil {
			t.Timezone = loc
		}
	}
	if tj.RunAt != nil {
		t.RunAt = time.UnixMilli(*tj.RunAt).UTC()
	}
	return nil
}
