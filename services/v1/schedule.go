package v1

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"servicecatalog-cron/models"

	"github.com/robfig/cron/v3"
)

// compileSchedule turns the authored schedule into a cron.Schedule bound to
// the policy timezone. Daily, weekly and custom recurrences are expressed as
// standard cron specs; monthly uses monthlySchedule so that days past the end
// of a month clamp to the month's last day.
func compileSchedule(s models.Schedule, verr *ValidationError) (*time.Location, cron.Schedule) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		verr.add("schedule.timezone", "unknown timezone %q", s.Timezone)
		return nil, nil
	}

	if s.Frequency == models.Custom {
		expr := strings.TrimSpace(s.Expression)
		if expr == "" {
			verr.add("schedule.expression", "custom frequency requires a recurrence expression")
			return loc, nil
		}
		if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") && !strings.HasPrefix(expr, "@every") {
			expr = fmt.Sprintf("CRON_TZ=%s %s", tz, expr)
		}
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			verr.add("schedule.expression", "invalid recurrence expression: %v", err)
			return loc, nil
		}
		if sched.Next(time.Now()).IsZero() {
			verr.add("schedule.expression", "recurrence expression %q never fires", s.Expression)
			return loc, nil
		}
		return loc, sched
	}

	at, err := time.Parse("15:04", strings.TrimSpace(s.TimeOfDay))
	if err != nil {
		verr.add("schedule.timeOfDay", "time of day must be HH:MM, got %q", s.TimeOfDay)
		return loc, nil
	}
	hour, minute := at.Hour(), at.Minute()

	switch s.Frequency {
	case models.Daily:
		return loc, mustParseSpec(fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, minute, hour))
	case models.Weekly:
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			verr.add("schedule.dayOfWeek", "day of week must be 0-6, got %d", s.DayOfWeek)
			return loc, nil
		}
		return loc, mustParseSpec(fmt.Sprintf("CRON_TZ=%s %d %d * * %d", tz, minute, hour, s.DayOfWeek))
	case models.Monthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			verr.add("schedule.dayOfMonth", "day of month must be 1-31, got %d", s.DayOfMonth)
			return loc, nil
		}
		return loc, monthlySchedule{day: s.DayOfMonth, hour: hour, minute: minute, loc: loc}
	default:
		verr.add("schedule.frequency", "unsupported frequency %q", s.Frequency)
		return loc, nil
	}
}

func mustParseSpec(spec string) cron.Schedule {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		panic(fmt.Sprintf("generated cron spec %q: %v", spec, err))
	}
	return sched
}

// monthlySchedule fires on day of every month at hour:minute in loc.
type monthlySchedule struct {
	day, hour, minute int
	loc               *time.Location
}

func (s monthlySchedule) Next(t time.Time) time.Time {
	local := t.In(s.loc)
	year, month, _ := local.Date()
	for i := 0; i < 3; i++ {
		m := month + time.Month(i)
		day := s.day
		if last := daysIn(year, m, s.loc); day > last {
			day = last
		}
		candidate := time.Date(year, m, day, s.hour, s.minute, 0, 0, s.loc)
		if candidate.After(t) {
			return candidate
		}
	}
	return time.Time{}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// NextDueTime returns the first due time strictly after after, in UTC.
func NextDueTime(p *Policy, after time.Time) (time.Time, error) {
	if !p.enabled {
		return time.Time{}, ErrPolicyDisabled
	}
	next := p.recurrence.Next(after)
	if next.IsZero() {
		return time.Time{}, ErrNoUpcomingRun
	}
	return next.UTC(), nil
}

// IsDue reports whether a run is due at now. A nil lastRun means the
// enrollment never ran and the policy activation time is used instead.
func IsDue(p *Policy, lastRun *time.Time, now time.Time) bool {
	from := p.activatedAt
	if lastRun != nil {
		from = *lastRun
	}
	next, err := NextDueTime(p, from)
	if err != nil {
		return false
	}
	return !now.Before(next)
}

// dueSchedule exposes a policy to robfig/cron. A zero time from Next tells
// cron the entry never fires again.
type dueSchedule struct {
	policy *Policy
}

func (s dueSchedule) Next(t time.Time) time.Time {
	next, err := NextDueTime(s.policy, t)
	if err != nil {
		return time.Time{}
	}
	return next
}
