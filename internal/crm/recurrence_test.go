package crm

import (
	"testing"
	"time"
)

func TestNextScheduleNone(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceNone}, now); ok {
		t.Error("expected no next schedule for none policy")
	}
}

func TestNextScheduleDaily(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	next, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceDaily}, now)
	if !ok {
		t.Fatal("expected a next schedule")
	}
	want := time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextScheduleWeekly(t *testing.T) {
	tests := []struct {
		name     string
		weekdays []time.Weekday
		now      time.Time
		want     time.Time
		wantOK   bool
	}{
		{
			// Tuesday with Mon+Wed configured lands on Wednesday of the
			// same week, not the following Monday.
			name:     "same week",
			weekdays: []time.Weekday{time.Monday, time.Wednesday},
			now:      time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), // Tuesday
			want:     time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC), // Wednesday
			wantOK:   true,
		},
		{
			name:     "wraps to next week",
			weekdays: []time.Weekday{time.Monday},
			now:      time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC), // Wednesday
			want:     time.Date(2025, 3, 17, 10, 0, 0, 0, time.UTC), // next Monday
			wantOK:   true,
		},
		{
			name:     "same weekday goes a full week out",
			weekdays: []time.Weekday{time.Tuesday},
			now:      time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), // Tuesday
			want:     time.Date(2025, 3, 18, 10, 0, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name:     "empty weekday set",
			weekdays: nil,
			now:      time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC),
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceWeekly, Weekdays: tt.weekdays}, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !next.Equal(tt.want) {
				t.Errorf("next = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextScheduleMonthly(t *testing.T) {
	tests := []struct {
		name       string
		dayOfMonth int
		now        time.Time
		want       time.Time
		wantOK     bool
	}{
		{
			name:       "plain next month",
			dayOfMonth: 15,
			now:        time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC),
			want:       time.Date(2025, 4, 15, 8, 0, 0, 0, time.UTC),
			wantOK:     true,
		},
		{
			name:       "day 31 clamps to short month",
			dayOfMonth: 31,
			now:        time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC),
			want:       time.Date(2025, 4, 30, 8, 0, 0, 0, time.UTC),
			wantOK:     true,
		},
		{
			name:       "day 31 clamps to february",
			dayOfMonth: 31,
			now:        time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC),
			want:       time.Date(2025, 2, 28, 8, 0, 0, 0, time.UTC),
			wantOK:     true,
		},
		{
			name:       "missing day of month",
			dayOfMonth: 0,
			now:        time.Date(2025, 3, 20, 8, 0, 0, 0, time.UTC),
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceMonthly, DayOfMonth: tt.dayOfMonth}, tt.now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !next.Equal(tt.want) {
				t.Errorf("next = %v, want %v", next, tt.want)
			}
		})
	}
}

func TestNextScheduleCustomDates(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	soon := now.Add(2 * time.Hour)
	later := now.AddDate(0, 0, 3)

	next, ok := NextSchedule(RecurrencePolicy{
		Kind:  RecurrenceCustomDates,
		Dates: []time.Time{past, soon, later},
	}, now)
	if !ok {
		t.Fatal("expected a next schedule")
	}
	if !next.Equal(soon) {
		t.Errorf("next = %v, want %v", next, soon)
	}

	// Exhausted set
	if _, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceCustomDates, Dates: []time.Time{past}}, now); ok {
		t.Error("expected no next schedule for exhausted date set")
	}

	// Empty set
	if _, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceCustomDates}, now); ok {
		t.Error("expected no next schedule for empty date set")
	}
}

func TestNextScheduleDaysFromNow(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	next, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceDaysFromNow, Days: 5}, now)
	if !ok {
		t.Fatal("expected a next schedule")
	}
	want := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	if _, ok := NextSchedule(RecurrencePolicy{Kind: RecurrenceDaysFromNow}, now); ok {
		t.Error("expected no next schedule when days is unset")
	}
}

func TestNextScheduleStrictlyAfterNow(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	policies := []RecurrencePolicy{
		{Kind: RecurrenceDaily},
		{Kind: RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday}},
		{Kind: RecurrenceMonthly, DayOfMonth: 10},
		{Kind: RecurrenceCustomDates, Dates: []time.Time{now.Add(time.Minute)}},
		{Kind: RecurrenceDaysFromNow, Days: 1},
	}

	for _, p := range policies {
		next, ok := NextSchedule(p, now)
		if !ok {
			t.Fatalf("policy %s: expected a next schedule", p.Kind)
		}
		if !next.After(now) {
			t.Errorf("policy %s: next %v is not after now %v", p.Kind, next, now)
		}
	}
}

func TestEffectivePolicyLegacyMonthly(t *testing.T) {
	c := &Campaign{
		Recurrence:       RecurrencePolicy{Kind: RecurrenceNone},
		LegacyMonthlyDay: 12,
	}
	p := EffectivePolicy(c)
	if p.Kind != RecurrenceMonthly || p.DayOfMonth != 12 {
		t.Errorf("effective policy = %+v, want monthly day 12", p)
	}

	// Tagged policy wins over the legacy flag
	c.Recurrence = RecurrencePolicy{Kind: RecurrenceDaily}
	if p := EffectivePolicy(c); p.Kind != RecurrenceDaily {
		t.Errorf("effective policy = %+v, want daily", p)
	}
}

func TestSentThisPeriod(t *testing.T) {
	loc := time.UTC
	today9 := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	today15 := time.Date(2025, 3, 10, 15, 0, 0, 0, loc)
	tomorrow901 := time.Date(2025, 3, 11, 9, 1, 0, 0, loc)

	daily := RecurrencePolicy{Kind: RecurrenceDaily}
	if !SentThisPeriod(daily, today9, today15, loc) {
		t.Error("daily: same day should count as sent this period")
	}
	if SentThisPeriod(daily, today9, tomorrow901, loc) {
		t.Error("daily: next day should be a new period")
	}

	monthly := RecurrencePolicy{Kind: RecurrenceMonthly, DayOfMonth: 10}
	if !SentThisPeriod(monthly, today9, today15, loc) {
		t.Error("monthly: same month+day should count as sent this period")
	}
	nextMonth := time.Date(2025, 4, 10, 9, 0, 0, 0, loc)
	if SentThisPeriod(monthly, today9, nextMonth, loc) {
		t.Error("monthly: same day next month should be a new period")
	}

	window := RecurrencePolicy{Kind: RecurrenceDaysFromNow, Days: 3}
	if !SentThisPeriod(window, today9, today9.AddDate(0, 0, 2), loc) {
		t.Error("days_from_now: inside window should count as sent this period")
	}
	if SentThisPeriod(window, today9, today9.AddDate(0, 0, 4), loc) {
		t.Error("days_from_now: outside window should be a new period")
	}

	if SentThisPeriod(RecurrencePolicy{Kind: RecurrenceNone}, today9, today15, loc) {
		t.Error("none: never sent this period")
	}
}
