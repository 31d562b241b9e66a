package crm

import (
	"time"
)

// EffectivePolicy returns the campaign's recurrence policy with the legacy
// monthly flag folded in: a campaign without a tagged policy but with a
// legacy day-of-month configured behaves as a monthly campaign.
func EffectivePolicy(c *Campaign) RecurrencePolicy {
	p := c.Recurrence
	if p.Kind == "" {
		p.Kind = RecurrenceNone
	}
	if p.Kind == RecurrenceNone && c.LegacyMonthlyDay > 0 {
		return RecurrencePolicy{Kind: RecurrenceMonthly, DayOfMonth: c.LegacyMonthlyDay}
	}
	return p
}

// NextSchedule computes the next eligible dispatch time strictly after now
// for the given policy. ok=false means no further sends: the caller removes
// the position. A policy missing its required parameter degrades to no
// further sends rather than failing.
func NextSchedule(p RecurrencePolicy, now time.Time) (next time.Time, ok bool) {
	switch p.Kind {
	case RecurrenceDaily:
		return now.AddDate(0, 0, 1), true

	case RecurrenceWeekly:
		if len(p.Weekdays) == 0 {
			return time.Time{}, false
		}
		allowed := make(map[time.Weekday]bool, len(p.Weekdays))
		for _, d := range p.Weekdays {
			allowed[d] = true
		}
		for offset := 1; offset <= 7; offset++ {
			candidate := now.AddDate(0, 0, offset)
			if allowed[candidate.Weekday()] {
				return candidate, true
			}
		}
		return time.Time{}, false

	case RecurrenceMonthly:
		if p.DayOfMonth < 1 {
			return time.Time{}, false
		}
		return nextMonthly(p.DayOfMonth, now), true

	case RecurrenceCustomDates:
		for _, d := range p.Dates {
			if d.After(now) {
				return d, true
			}
		}
		return time.Time{}, false

	case RecurrenceDaysFromNow:
		if p.Days < 1 {
			return time.Time{}, false
		}
		return now.AddDate(0, 0, p.Days), true

	default: // none
		return time.Time{}, false
	}
}

// nextMonthly returns the configured day in the month following now,
// clamped to the last valid day for short months. The clamp is a deliberate
// deviation from strict day arithmetic: day 31 in February lands on the
// 28th (or 29th) instead of rolling into March.
func nextMonthly(dayOfMonth int, now time.Time) time.Time {
	firstOfNext := time.Date(now.Year(), now.Month(), 1, now.Hour(), now.Minute(), now.Second(), 0, now.Location()).AddDate(0, 1, 0)
	day := dayOfMonth
	if last := daysInMonth(firstOfNext.Year(), firstOfNext.Month()); day > last {
		day = last
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, now.Hour(), now.Minute(), now.Second(), 0, now.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SentThisPeriod reports whether lastSent falls inside the recurrence period
// containing now, i.e. whether a send now would duplicate one already made
// in the current cycle. Calendar comparisons are made in loc.
func SentThisPeriod(p RecurrencePolicy, lastSent, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	last := lastSent.In(loc)
	cur := now.In(loc)

	switch p.Kind {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceCustomDates:
		return sameDay(last, cur)
	case RecurrenceMonthly:
		return last.Month() == cur.Month() && last.Day() == cur.Day() && last.Year() == cur.Year()
	case RecurrenceDaysFromNow:
		if p.Days < 1 {
			return false
		}
		return now.Sub(lastSent) < time.Duration(p.Days)*24*time.Hour
	default:
		return false
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
