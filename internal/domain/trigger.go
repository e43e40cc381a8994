package domain

import (
	"encoding/json"
	"time"
)

// TriggerKind tags which variant of Trigger is populated, mirroring the
// apscheduler trigger family the original source wraps (CronTrigger,
// IntervalTrigger, CalendarIntervalTrigger, DateTrigger).
type TriggerKind string

const (
	TriggerCron             TriggerKind = "cron"
	TriggerInterval         TriggerKind = "interval"
	TriggerCalendarInterval TriggerKind = "calendarinterval"
	TriggerDate             TriggerKind = "date"
)

// Trigger is the tagged-variant value object from spec.md §3/§4.4
// describing *when* a schedule fires. Only the fields matching Kind are
// meaningful; construction-time validation (internal/trigger) enforces a
// closed keyword set per kind and that Crontab/field-form are mutually
// exclusive.
type Trigger struct {
	Kind TriggerKind

	// Cron
	Crontab    string // full 5-field crontab string, mutually exclusive with the fields below
	Minute     string
	Hour       string
	Day        string
	Month      string
	DayOfWeek  string
	CronStart  *time.Time
	CronEnd    *time.Time
	Timezone   *time.Location

	// Interval
	Weeks         int
	Days          int
	Hours         int
	Minutes       int
	Seconds       int
	Microseconds  int
	IntervalStart *time.Time
	IntervalEnd   *time.Time

	// CalendarInterval
	Years        int
	Months       int
	CalWeeks     int
	CalDays      int
	AtHour       int
	AtMinute     int
	AtSecond     int
	CalStartDate *time.Time
	CalEndDate   *time.Time
	CalTimezone  *time.Location

	// Date
	RunAt time.Time
}

// triggerWire is Trigger's JSON representation: *time.Location has no
// exported fields for encoding/json to walk, so timezones round-trip as
// IANA zone names instead.
type triggerWire struct {
	Kind TriggerKind `json:"kind"`

	Crontab   string     `json:"crontab,omitempty"`
	Minute    string     `json:"minute,omitempty"`
	Hour      string     `json:"hour,omitempty"`
	Day       string     `json:"day,omitempty"`
	Month     string     `json:"month,omitempty"`
	DayOfWeek string     `json:"dayOfWeek,omitempty"`
	CronStart *time.Time `json:"cronStart,omitempty"`
	CronEnd   *time.Time `json:"cronEnd,omitempty"`
	Timezone  string     `json:"timezone,omitempty"`

	Weeks         int        `json:"weeks,omitempty"`
	Days          int        `json:"days,omitempty"`
	Hours         int        `json:"hours,omitempty"`
	Minutes       int        `json:"minutes,omitempty"`
	Seconds       int        `json:"seconds,omitempty"`
	Microseconds  int        `json:"microseconds,omitempty"`
	IntervalStart *time.Time `json:"intervalStart,omitempty"`
	IntervalEnd   *time.Time `json:"intervalEnd,omitempty"`

	Years        int        `json:"years,omitempty"`
	Months       int        `json:"months,omitempty"`
	CalWeeks     int        `json:"calWeeks,omitempty"`
	CalDays      int        `json:"calDays,omitempty"`
	AtHour       int        `json:"atHour,omitempty"`
	AtMinute     int        `json:"atMinute,omitempty"`
	AtSecond     int        `json:"atSecond,omitempty"`
	CalStartDate *time.Time `json:"calStartDate,omitempty"`
	CalEndDate   *time.Time `json:"calEndDate,omitempty"`
	CalTimezone  string     `json:"calTimezone,omitempty"`

	RunAt time.Time `json:"runAt,omitempty"`
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	w := triggerWire{
		Kind: t.Kind, Crontab: t.Crontab, Minute: t.Minute, Hour: t.Hour, Day: t.Day, Month: t.Month, DayOfWeek: t.DayOfWeek,
		CronStart: t.CronStart, CronEnd: t.CronEnd,
		Weeks: t.Weeks, Days: t.Days, Hours: t.Hours, Minutes: t.Minutes, Seconds: t.Seconds, Microseconds: t.Microseconds,
		IntervalStart: t.IntervalStart, IntervalEnd: t.IntervalEnd,
		Years: t.Years, Months: t.Months, CalWeeks: t.CalWeeks, CalDays: t.CalDays,
		AtHour: t.AtHour, AtMinute: t.AtMinute, AtSecond: t.AtSecond,
		CalStartDate: t.CalStartDate, CalEndDate: t.CalEndDate,
		RunAt: t.RunAt,
	}
	if t.Timezone != nil {
		w.Timezone = t.Timezone.String()
	}
	if t.CalTimezone != nil {
		w.CalTimezone = t.CalTimezone.String()
	}
	return json.Marshal(w)
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var w triggerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Trigger{
		Kind: w.Kind, Crontab: w.Crontab, Minute: w.Minute, Hour: w.Hour, Day: w.Day, Month: w.Month, DayOfWeek: w.DayOfWeek,
		CronStart: w.CronStart, CronEnd: w.CronEnd,
		Weeks: w.Weeks, Days: w.Days, Hours: w.Hours, Minutes: w.Minutes, Seconds: w.Seconds, Microseconds: w.Microseconds,
		IntervalStart: w.IntervalStart, IntervalEnd: w.IntervalEnd,
		Years: w.Years, Months: w.Months, CalWeeks: w.CalWeeks, CalDays: w.CalDays,
		AtHour: w.AtHour, AtMinute: w.AtMinute, AtSecond: w.AtSecond,
		CalStartDate: w.CalStartDate, CalEndDate: w.CalEndDate,
		RunAt: w.RunAt,
	}
	if w.Timezone != "" {
		if loc, err := time.LoadLocation(w.Timezone); err == nil {
			t.Timezone = loc
		}
	}
	if w.CalTimezone != "" {
		if loc, err := time.LoadLocation(w.CalTimezone); err == nil {
			t.CalTimezone = loc
		}
	}
	return nil
}
