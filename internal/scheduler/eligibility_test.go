package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zapline/zapline/internal/crm"
	"github.com/zapline/zapline/internal/store"
)

// fakeChannel implements dispatch.Channel for tests
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	textErr   error
	mediaErr  error
	msgID     string
	textSent  []string // rendered texts in send order
	mediaSent []string // media URLs in send order
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) SendText(ctx context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return "", f.textErr
	}
	f.textSent = append(f.textSent, text)
	return f.msgID, nil
}

func (f *fakeChannel) SendMedia(ctx context.Context, to, url string, kind crm.MediaKind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return "", f.mediaErr
	}
	f.mediaSent = append(f.mediaSent, url)
	return f.msgID, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func utcSettings() *crm.Settings {
	return &crm.Settings{Timezone: "UTC"}
}

func TestGateAlreadySentThisPeriod(t *testing.T) {
	st := newGateStore(t)
	ch := &fakeChannel{connected: true, msgID: "m1"}
	gate := NewGate(st, ch)
	ctx := context.Background()

	camp := &crm.Campaign{ID: "c1", Recurrence: crm.RecurrencePolicy{Kind: crm.RecurrenceDaily}}
	sentAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	pos := &crm.Position{ID: "p1", LeadID: "l1", CampaignID: "c1", LastSentAt: &sentAt}

	// Same day, later hour: blocked
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	d, err := gate.Evaluate(ctx, pos, camp, utcSettings(), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Eligible || d.Reason != BlockAlreadySentThisPeriod {
		t.Errorf("decision = %+v, want blocked already_sent_this_period", d)
	}

	// Manual retry forces the check to pass
	pos.ManualRetry = true
	d, err = gate.Evaluate(ctx, pos, camp, utcSettings(), now)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Eligible {
		t.Errorf("manual retry should pass the period check, got %+v", d)
	}
	pos.ManualRetry = false

	// Next day: eligible again
	tomorrow := time.Date(2025, 3, 11, 9, 1, 0, 0, time.UTC)
	d, err = gate.Evaluate(ctx, pos, camp, utcSettings(), tomorrow)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Eligible {
		t.Errorf("next day should be eligible, got %+v", d)
	}
}

func TestGateChannelDisconnected(t *testing.T) {
	st := newGateStore(t)
	ch := &fakeChannel{connected: false}
	gate := NewGate(st, ch)

	camp := &crm.Campaign{ID: "c1"}
	pos := &crm.Position{ID: "p1", LeadID: "l1", CampaignID: "c1"}

	d, err := gate.Evaluate(context.Background(), pos, camp, utcSettings(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Eligible || d.Reason != BlockChannelDisconnected {
		t.Errorf("decision = %+v, want blocked channel_disconnected", d)
	}
}

func TestGateRateLimited(t *testing.T) {
	st := newGateStore(t)
	ch := &fakeChannel{connected: true}
	gate := NewGate(st, ch)
	ctx := context.Background()
	now := time.Now()

	// Five positions already sent within the trailing hour
	for i := 0; i < 5; i++ {
		sent := now.Add(-10 * time.Minute)
		p := &crm.Position{
			ID: "sent-" + string(rune('a'+i)), LeadID: "l" + string(rune('a'+i)), CampaignID: "other",
			Status: crm.StatusSent, LastSentAt: &sent, CreatedAt: now,
		}
		if err := st.PutPosition(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	settings := utcSettings()
	settings.MaxMessagesPerHour = 5

	camp := &crm.Campaign{ID: "c1"}
	pos := &crm.Position{ID: "p6", LeadID: "l6", CampaignID: "c1"}

	d, err := gate.Evaluate(ctx, pos, camp, settings, now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Eligible || d.Reason != BlockRateLimited {
		t.Errorf("decision = %+v, want blocked rate_limited", d)
	}

	// Bypass skips the caps
	pos.BypassGate = true
	d, err = gate.Evaluate(ctx, pos, camp, settings, now)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Eligible {
		t.Errorf("bypass should skip rate caps, got %+v", d)
	}
}

func TestGateBusinessHours(t *testing.T) {
	st := newGateStore(t)
	ch := &fakeChannel{connected: true}
	gate := NewGate(st, ch)
	ctx := context.Background()

	settings := utcSettings()
	settings.SendOnlyBusinessHours = true
	settings.BusinessHourStart = 9
	settings.BusinessHourEnd = 18
	settings.BlockWeekends = true

	camp := &crm.Campaign{ID: "c1"}
	pos := &crm.Position{ID: "p1", LeadID: "l1", CampaignID: "c1"}

	tests := []struct {
		name     string
		now      time.Time
		eligible bool
	}{
		{"weekday inside hours", time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), true},
		{"weekday before opening", time.Date(2025, 3, 11, 8, 59, 0, 0, time.UTC), false},
		{"weekday at closing hour", time.Date(2025, 3, 11, 18, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2025, 3, 16, 10, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := gate.Evaluate(ctx, pos, camp, settings, tt.now)
			if err != nil {
				t.Fatal(err)
			}
			if d.Eligible != tt.eligible {
				t.Errorf("eligible = %v, want %v (%+v)", d.Eligible, tt.eligible, d)
			}
			if !tt.eligible && d.Reason != BlockOutsideBusinessHours {
				t.Errorf("reason = %s, want outside_business_hours", d.Reason)
			}
		})
	}
}

func TestGateCheckOrder(t *testing.T) {
	// The anti-duplicate check runs before connectivity: a position that
	// already got its message this period reports that, not the outage
	st := newGateStore(t)
	ch := &fakeChannel{connected: false}
	gate := NewGate(st, ch)

	camp := &crm.Campaign{ID: "c1", Recurrence: crm.RecurrencePolicy{Kind: crm.RecurrenceDaily}}
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	sentAt := now.Add(-2 * time.Hour)
	pos := &crm.Position{ID: "p1", LeadID: "l1", CampaignID: "c1", LastSentAt: &sentAt}

	d, err := gate.Evaluate(context.Background(), pos, camp, utcSettings(), now)
	if err != nil {
		t.Fatal(err)
	}
	if d.Reason != BlockAlreadySentThisPeriod {
		t.Errorf("reason = %s, want already_sent_this_period to win", d.Reason)
	}
}
