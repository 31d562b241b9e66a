package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/zapline/zapline/internal/crm"
	"github.com/zapline/zapline/internal/dispatch"
	"github.com/zapline/zapline/internal/store"
)

// BlockReason explains why the eligibility gate deferred a dispatch
type BlockReason string

const (
	BlockAlreadySentThisPeriod BlockReason = "already_sent_this_period"
	BlockChannelDisconnected   BlockReason = "channel_disconnected"
	BlockRateLimited           BlockReason = "rate_limited"
	BlockOutsideBusinessHours  BlockReason = "outside_business_hours"
)

// Decision is the gate's verdict for one position
type Decision struct {
	Eligible bool
	Reason   BlockReason // set when not eligible
}

var eligible = Decision{Eligible: true}

func blocked(reason BlockReason) Decision {
	return Decision{Reason: reason}
}

// Gate decides whether a position may be dispatched right now. It reads
// channel connectivity and global send counts but writes nothing; the
// scheduler loop owns all status write-backs.
type Gate struct {
	store   store.Store
	channel dispatch.Channel
}

// NewGate creates an eligibility gate
func NewGate(st store.Store, channel dispatch.Channel) *Gate {
	return &Gate{store: st, channel: channel}
}

// Evaluate runs the ordered checks; the first match wins.
func (g *Gate) Evaluate(ctx context.Context, pos *crm.Position, camp *crm.Campaign, settings *crm.Settings, now time.Time) (Decision, error) {
	policy := crm.EffectivePolicy(camp)
	loc := settings.Location()

	// 1. Anti-duplicate: one send per recurrence period. A manual retry
	// forces this check to pass.
	if !pos.BypassGate && policy.Kind != crm.RecurrenceNone && pos.LastSentAt != nil && !pos.ManualRetry {
		if crm.SentThisPeriod(policy, *pos.LastSentAt, now, loc) {
			return blocked(BlockAlreadySentThisPeriod), nil
		}
	}

	// 2. Channel connectivity
	if !g.channel.Connected() {
		return blocked(BlockChannelDisconnected), nil
	}

	// 3. Global rate caps, counted across all campaigns by lastSentAt
	if !pos.BypassGate {
		if settings.MaxMessagesPerHour > 0 {
			count, err := g.store.CountSentSince(ctx, now.Add(-time.Hour))
			if err != nil {
				return Decision{}, fmt.Errorf("failed to count hourly sends: %w", err)
			}
			if count >= settings.MaxMessagesPerHour {
				return blocked(BlockRateLimited), nil
			}
		}
		if settings.MaxMessagesPerDay > 0 {
			count, err := g.store.CountSentSince(ctx, now.Add(-24*time.Hour))
			if err != nil {
				return Decision{}, fmt.Errorf("failed to count daily sends: %w", err)
			}
			if count >= settings.MaxMessagesPerDay {
				return blocked(BlockRateLimited), nil
			}
		}
	}

	// 4. Business hours in the configured timezone
	if settings.SendOnlyBusinessHours {
		local := now.In(loc)
		if settings.BlockWeekends {
			wd := local.Weekday()
			if wd == time.Saturday || wd == time.Sunday {
				return blocked(BlockOutsideBusinessHours), nil
			}
		}
		hour := local.Hour()
		if hour < settings.BusinessHourStart || hour >= settings.BusinessHourEnd {
			return blocked(BlockOutsideBusinessHours), nil
		}
	}

	return eligible, nil
}
