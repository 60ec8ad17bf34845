// Package schedule compiles the scheduling DSL of spec.md §3/§4.1 into a
// tri-modal CompiledSchedule (pure_cron / hybrid / runtime_only) and
// implements next_run_after/next_run_times against it.
//
// Grounded on the teacher's internal/cronjob package: Compile
// generalizes cronjob.CronJobSpec.Validate's single cron.NewParser call
// into the full frequency-tag DSL. Cron candidates are computed in the
// schedule's own timezone (NextRunAfter converts its argument to TZ
// before asking the parsed schedule for the next instant).
package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Frequency is the ScheduleSpec frequency tag.
type Frequency string

const (
	FreqDaily    Frequency = "daily"
	FreqWeekly   Frequency = "weekly"
	FreqMonthly  Frequency = "monthly"
	FreqYearly   Frequency = "yearly"
	FreqInterval Frequency = "interval"
	FreqCustom   Frequency = "custom"
)

// Ordinal selects which occurrence of a weekday within a month a monthly
// schedule fires on.
type Ordinal string

const (
	OrdinalFirst  Ordinal = "first"
	OrdinalSecond Ordinal = "second"
	OrdinalThird  Ordinal = "third"
	OrdinalFourth Ordinal = "fourth"
	OrdinalLast   Ordinal = "last"
)

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Spec is the friendly scheduling DSL an operator writes (spec.md §3).
// Exactly one of the frequency-specific field groups applies, selected by
// Frequency.
type Spec struct {
	Frequency Frequency `mapstructure:"frequency"`

	// daily / weekly / monthly(day_of_month) / yearly
	Time         string `mapstructure:"time"` // "HH:MM"
	WeekdaysOnly bool   `mapstructure:"weekdays_only"`

	// weekly
	Days []string `mapstructure:"days"` // weekday names

	// monthly (day_of_month form) or custom's day_of_month cron token
	DayOfMonth string `mapstructure:"day_of_month"`

	// monthly (ordinal form)
	Ordinal Ordinal `mapstructure:"ordinal"`
	Day     string  `mapstructure:"day"` // weekday name for the ordinal form

	// yearly (numeric "1".."12") or custom's month cron token
	Month string `mapstructure:"month"`

	// interval
	Every string `mapstructure:"every"` // e.g. "30m", "2h", "1d"

	// custom (raw cron fields; "*" default when empty)
	Minute    string `mapstructure:"minute"`
	Hour      string `mapstructure:"hour"`
	DayOfWeek string `mapstructure:"day_of_week"`

	// modifiers
	Timezone string   `mapstructure:"timezone"`
	Start    string   `mapstructure:"start"` // ISO datetime, naive -> schedule tz
	End      string   `mapstructure:"end"`
	Exclude  []string `mapstructure:"exclude"` // YYYY-MM-DD
}

// ValidationError names the offending field, matching spec.md §4.1's
// "pinpoints the offending job/field" contract.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schedule.%s: %s", e.Field, e.Msg)
}

func errf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

var timeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
var intervalRe = regexp.MustCompile(`^\d+[mhd]$`)
var intervalSecondsRe = regexp.MustCompile(`^\d+s$`)

func parseTimeField(s string) (hour, minute int, err error) {
	m := timeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("time must be HH:MM 24-hour, got %q", s)
	}
	var h, mm int
	_, _ = fmt.Sscanf(m[1], "%d", &h)
	_, _ = fmt.Sscanf(m[2], "%d", &mm)
	return h, mm, nil
}

func normalizeDay(s string) (time.Weekday, bool) {
	w, ok := weekdayByName[strings.ToLower(strings.TrimSpace(s))]
	return w, ok
}
