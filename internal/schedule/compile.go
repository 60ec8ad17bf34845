package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is CompiledSchedule's tri-modal discriminator (spec.md §3/§4.1).
type Kind string

const (
	KindPureCron    Kind = "pure_cron"
	KindHybrid      Kind = "hybrid"
	KindRuntimeOnly Kind = "runtime_only"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CompiledSchedule is the compiler's output: everything the Trigger
// Engine needs to compute next_fire instants for one job.
type CompiledSchedule struct {
	Kind            Kind
	CronExpr        string
	TZ              *time.Location
	Start           time.Time // zero value means unbounded
	End             time.Time
	Exclude         map[string]struct{} // "YYYY-MM-DD" in TZ
	IntervalSeconds int

	cronSched    cron.Schedule
	ordinalGuard func(time.Time) bool // non-nil only for hybrid
	anchor       time.Time            // runtime_only anchor instant (UTC)
}

// Guard applies the composed predicate of spec.md §4.1 to a candidate
// instant. It is always applied, even for pure_cron schedules.
func (c *CompiledSchedule) Guard(t time.Time) bool {
	local := t.In(c.TZ)

	// 1. reject if local wall time doesn't exist (spring-forward gap).
	reconstructed := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, c.TZ)
	if reconstructed.Hour() != local.Hour() || reconstructed.Minute() != local.Minute() {
		return false
	}

	// 2. fall-back ambiguity: keep only fold=0.
	if local.Unix() != reconstructed.Unix() && local.Second() == reconstructed.Second() {
		// Two UTC instants can share the same wall clock; time.Date always
		// resolves to the fold=0 (pre-transition) instant. If the instant
		// we were asked to check isn't that canonical one, it's the
		// fold=1 duplicate and must be rejected.
		if t.Unix() != reconstructed.Unix() {
			return false
		}
	}

	// 3. start/end bounds (naive, interpreted in schedule timezone).
	if !c.Start.IsZero() && local.Before(c.Start) {
		return false
	}
	if !c.End.IsZero() && local.After(c.End) {
		return false
	}

	// 4. exclusion dates.
	if len(c.Exclude) > 0 {
		key := local.Format("2006-01-02")
		if _, excluded := c.Exclude[key]; excluded {
			return false
		}
	}

	// 5. hybrid ordinal predicate.
	if c.ordinalGuard != nil && !c.ordinalGuard(local) {
		return false
	}

	return true
}

// Compile translates a Spec into a CompiledSchedule, implementing the
// frequency table of spec.md §4.1.
func Compile(spec Spec) (*CompiledSchedule, error) {
	tz := time.UTC
	if spec.Timezone != "" {
		loc, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, errf("timezone", "invalid IANA timezone %q: %v", spec.Timezone, err)
		}
		tz = loc
	}

	cs := &CompiledSchedule{TZ: tz, Exclude: map[string]struct{}{}}

	if err := parseBounds(spec, tz, cs); err != nil {
		return nil, err
	}
	for _, d := range spec.Exclude {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", d, tz); err != nil {
			return nil, errf("exclude", "invalid date %q, want YYYY-MM-DD", d)
		}
		cs.Exclude[d] = struct{}{}
	}

	switch spec.Frequency {
	case FreqDaily:
		return compileDaily(spec, cs)
	case FreqWeekly:
		return compileWeekly(spec, cs)
	case FreqMonthly:
		return compileMonthly(spec, cs)
	case FreqYearly:
		return compileYearly(spec, cs)
	case FreqInterval:
		return compileInterval(spec, cs)
	case FreqCustom:
		return compileCustom(spec, cs)
	case "":
		return nil, errf("frequency", "required")
	default:
		return nil, errf("frequency", "unknown frequency %q", spec.Frequency)
	}
}

func parseBounds(spec Spec, tz *time.Location, cs *CompiledSchedule) error {
	if spec.Start != "" {
		t, err := parseNaive(spec.Start, tz)
		if err != nil {
			return errf("start", "%v", err)
		}
		cs.Start = t
	}
	if spec.End != "" {
		t, err := parseNaive(spec.End, tz)
		if err != nil {
			return errf("end", "%v", err)
		}
		cs.End = t
	}
	return nil
}

// parseNaive parses an ISO datetime without a zone offset, interpreting
// it in loc, per spec.md §3 ("naive values interpreted in the schedule's
// timezone").
func parseNaive(s string, loc *time.Location) (time.Time, error) {
	layouts := []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO datetime %q", s)
}

func buildCronSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid composed cron expression %q: %w", expr, err)
	}
	return sched, nil
}

func compileDaily(spec Spec, cs *CompiledSchedule) (*CompiledSchedule, error) {
	if spec.Time == "" {
		return nil, errf("time", "required for daily schedule")
	}
	h, m, err := parseTimeField(spec.Time)
	if err != nil {
		return nil, errf("time", "%v", err)
	}
	dow := "*"
	if spec.WeekdaysOnly {
		dow = "1-5"
	}
	cs.CronExpr = fmt.Sprintf("%d %d * * %s", m, h, dow)
	cs.Kind = KindPureCron
	sched, err := buildCronSchedule(cs.CronExpr)
	if err != nil {
		return nil, err
	}
	cs.cronSched = sched
	return cs, nil
}

func compileWeekly(spec Spec, cs *CompiledSchedule) (*CompiledSchedule, error) {
	if spec.Time == "" {
		return nil, errf("time", "required for weekly schedule")
	}
	if len(spec.Days) == 0 {
		return nil, errf("days", "at least one weekday required for weekly schedule")
	}
	h, m, err := parseTimeField(spec.Time)
	if err != nil {
		return nil, errf("time", "%v", err)
	}
	nums := make([]int, 0, len(spec.Days))
	for _, d := range spec.Days {
		w, ok := normalizeDay(d)
		if !ok {
			return nil, errf("days", "unknown weekday %q", d)
		}
		nums = append(nums, int(w))
	}
	sort.Ints(nums)
	strs := make([]string, len(nums))
	for i, n := range nums {
		strs[i] = strconv.Itoa(n)
	}
	cs.CronExpr = fmt.Sprintf("%d %d * * %s", m, h, strings.Join(strs, ","))
	cs.Kind = KindPureCron
	sched, err := buildCronSchedule(cs.CronExpr)
	if err != nil {
		return nil, err
	}
	cs.cronSched = sched
	return cs, nil
}

func compileMonthly(spec Spec, cs *CompiledSchedule) (*CompiledSchedule, error) {
	if spec.Time == "" {
		return nil, errf("time", "required for monthly schedule")
	}
	h, m, err := parseTimeField(spec.Time)
	if err != nil {
		return nil, errf("time", "%v", err)
	}
	hasDOM := spec.DayOfMonth != ""
	hasOrdinal := spec.Ordinal != "" || spec.Day != ""

	switch {
	case hasDOM && hasOrdinal:
		return nil, errf("schedule", "monthly schedule may specify day_of_month OR ordinal+day, never both")
	case hasDOM:
		dom, err := strconv.Atoi(spec.DayOfMonth)
		if err != nil || dom < 1 || dom > 31 {
			return nil, errf("day_of_month", "must be an integer 1-31, got %q", spec.DayOfMonth)
		}
		cs.CronExpr = fmt.Sprintf("%d %d %d * *", m, h, dom)
		cs.Kind = KindPureCron
		sched, err := buildCronSchedule(cs.CronExpr)
		if err != nil {
			return nil, err
		}
		cs.cronSched = sched
		return cs, nil
	case hasOrdinal:
		if spec.Ordinal == "" || spec.Day == "" {
			return nil, errf("schedule", "monthly ordinal form requires both ordinal and day")
		}
		switch spec.Ordinal {
		case OrdinalFirst, OrdinalSecond, OrdinalThird, OrdinalFourth, OrdinalLast:
		default:
			return nil, errf("ordinal", "unknown ordinal %q", spec.Ordinal)
		}
		wd, ok := normalizeDay(spec.Day)
		if !ok {
			return nil, errf("day", "unknown weekday %q", spec.Day)
		}
		cs.CronExpr = fmt.Sprintf("%d %d * * %d", m, h, int(wd))
		cs.Kind = KindHybrid
		sched, err := buildCronSchedule(cs.CronExpr)
		if err != nil {
			return nil, err
		}
		cs.cronSched = sched
		ordinal := spec.Ordinal
		cs.ordinalGuard = func(local time.Time) bool { return matchesOrdinal(local, ordinal) }
		return cs, nil
	default:
		return nil, errf("schedule", "monthly schedule requires day_of_month or ordinal+day")
	}
}

func compileYearly(spec Spec, cs *CompiledSchedule) (*CompiledSchedule, error) {
	if spec.Time == "" || spec.Month == "" || spec.DayOfMonth == "" {
		return nil, errf("schedule", "yearly schedule requires month, day_of_month and time")
	}
	h, m, err := parseTimeField(spec.Time)
	if err != nil {
		return nil, errf("time", "%v", err)
	}
	month, err := strconv.Atoi(spec.Month)
	if err != nil || month < 1 || month > 12 {
		return nil, errf("month", "must be an integer 1-12, got %q", spec.Month)
	}
	dom, err := strconv.Atoi(spec.DayOfMonth)
	if err != nil || dom < 1 || dom > 31 {
		return nil, errf("day_of_month", "must be an integer 1-31, got %q", spec.DayOfMonth)
	}
	cs.CronExpr = fmt.Sprintf("%d %d %d %d *", m, h, dom, month)
	cs.Kind = KindPureCron
	sched, err := buildCronSchedule(cs.CronExpr)
	if err != nil {
		return nil, err
	}
	cs.cronSched = sched
	return cs, nil
}

func compileInterval(spec Spec, cs *CompiledSchedule) (*CompiledSchedule, error) {
	if spec.Time != "" {
		return nil, errf("time", "forbidden alongside interval")
	}
	every := strings.TrimSpace(spec.Every)
	if every == "" {
		return nil, errf("every", "required for interval schedule")
	}
	if intervalSecondsRe.MatchString(every) {
		return nil, errf("every", "seconds granularity is not supported, got %q", every)
	}
	if !intervalRe.MatchString(every) {
		return nil, errf("every", "must match /^\\d+[mhd]$/, got %q", every)
	}
	unit := every[len(every)-1]
	n, _ := strconv.Atoi(every[:len(every)-1])
	if n <= 0 {
		return nil, errf("every", "must be > 0")
	}

	switch unit {
	case 'm':
		if 60%n == 0 {
			cs.CronExpr = fmt.Sprintf("*/%d * * * *", n)
			cs.Kind = KindPureCron
			sched, err := buildCronSchedule(cs.CronExpr)
			if err != nil {
				return nil, err
			}
			cs.cronSched = sched
			return cs, nil
		}
	case 'h':
		if 24%n == 0 {
			cs.CronExpr = fmt.Sprintf("0 */%d * * *", n)
			cs.Kind = KindPureCron
			sched, err := buildCronSchedule(cs.CronExpr)
			if err != nil {
				return nil, err
			}
			cs.cronSched = sched
			return cs, nil
		}
	case 'd':
		if n == 1 {
			cs.CronExpr = "0 0 * * *"
			cs.Kind = KindPureCron
			sched, err := buildCronSchedule(cs.CronExpr)
			if err != nil {
				return nil, err
			}
			cs.cronSched = sched
			return cs, nil
		}
	}

	// runtime_only: anchor at compile time, advanced by whole periods.
	var period time.Duration
	switch unit {
	case 'm':
		period = time.Duration(n) * time.Minute
	case 'h':
		period = time.Duration(n) * time.Hour
	case 'd':
		period = time.Duration(n) * 24 * time.Hour
	}
	cs.Kind = KindRuntimeOnly
	cs.IntervalSeconds = int(period.Seconds())
	cs.anchor = time.Now().UTC()
	return cs, nil
}

func compileCustom(spec Spec, cs *CompiledSchedule) (*CompiledSchedule, error) {
	if spec.Minute == "" && spec.Hour == "" && spec.DayOfMonth == "" && spec.Month == "" && spec.DayOfWeek == "" {
		return nil, errf("schedule", "custom schedule requires at least one of minute, hour, day_of_month, month, day_of_week")
	}
	minute := defaultStar(spec.Minute)
	hour := defaultStar(spec.Hour)
	dom := defaultStar(spec.DayOfMonth)
	month := defaultStar(spec.Month)
	dow := defaultStar(spec.DayOfWeek)
	cs.CronExpr = fmt.Sprintf("%s %s %s %s %s", minute, hour, dom, month, dow)
	cs.Kind = KindPureCron
	sched, err := buildCronSchedule(cs.CronExpr)
	if err != nil {
		return nil, errf("schedule", "invalid custom cron token(s): %v", err)
	}
	cs.cronSched = sched
	return cs, nil
}

func defaultStar(s string) string {
	if strings.TrimSpace(s) == "" {
		return "*"
	}
	return s
}

// matchesOrdinal returns whether local's day-of-month is the ordinal-th
// occurrence of its own weekday within its month ("last" = the final
// occurrence, in the 28th-31st window).
func matchesOrdinal(local time.Time, ord Ordinal) bool {
	day := local.Day()
	if ord == OrdinalLast {
		next := time.Date(local.Year(), local.Month(), day+7, 0, 0, 0, 0, local.Location())
		return next.Month() != local.Month()
	}
	occurrence := (day-1)/7 + 1
	switch ord {
	case OrdinalFirst:
		return occurrence == 1
	case OrdinalSecond:
		return occurrence == 2
	case OrdinalThird:
		return occurrence == 3
	case OrdinalFourth:
		return occurrence == 4
	}
	return false
}
