package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapline/zapline/internal/crm"
	"github.com/zapline/zapline/internal/metrics"
	"github.com/zapline/zapline/internal/store"
)

// Domain errors surfaced to the retry control surface callers
var (
	ErrNotFound     = errors.New("not found")
	ErrNotRetryable = errors.New("position is not in a retryable state")
)

// RetryOptions are the one-shot overrides applied to a manual retry
type RetryOptions struct {
	BypassGate  bool `json:"bypass_gate"`
	ManualRetry bool `json:"manual_retry"`
}

// RetryService re-queues failed positions for the scheduler to pick up.
// Campaign-wide operations pre-stagger the schedule times so the loop's
// natural pacing is already honored when the positions come due.
type RetryService struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	now func() time.Time
}

// NewRetryService creates a retry control service
func NewRetryService(st store.Store, m *metrics.Metrics, logger *slog.Logger) *RetryService {
	return &RetryService{
		store:   st,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// retryableStatuses are the states a single position may be retried from
var retryableStatuses = map[crm.PositionStatus]bool{
	crm.StatusFailed:       true,
	crm.StatusDisconnected: true,
	crm.StatusRateLimited:  true,
}

// RetryOne resets a single position back to pending for immediate pickup.
// Permitted when the position failed, was deferred by connectivity or
// rate limits, or has nothing scheduled.
func (r *RetryService) RetryOne(ctx context.Context, positionID string, opts RetryOptions) error {
	pos, err := r.store.GetPosition(ctx, positionID)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	if pos == nil {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}

	if !retryableStatuses[pos.Status] && pos.NextScheduledAt != nil {
		return fmt.Errorf("position %s has status %s: %w", positionID, pos.Status, ErrNotRetryable)
	}

	now := r.now()
	pos.Status = crm.StatusPending
	pos.NextScheduledAt = &now
	pos.LastError = ""
	pos.BypassGate = opts.BypassGate
	pos.ManualRetry = opts.ManualRetry

	if err := r.store.PutPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to re-queue position: %w", err)
	}

	r.metrics.ManualRetriesTotal.WithLabelValues("one").Inc()
	r.logger.Info("position re-queued", "position_id", positionID, "bypass_gate", opts.BypassGate, "manual_retry", opts.ManualRetry)
	return nil
}

// RetryCampaign re-queues every failed or disconnected position in the
// campaign, staggered by the campaign's dispatch interval in original
// creation order. Returns the number of positions re-queued.
func (r *RetryService) RetryCampaign(ctx context.Context, campaignID string) (int, error) {
	camp, err := r.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to load campaign: %w", err)
	}
	if camp == nil {
		return 0, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}

	positions, err := r.store.PositionsByStatus(ctx, campaignID, crm.StatusFailed, crm.StatusDisconnected)
	if err != nil {
		return 0, fmt.Errorf("failed to load positions: %w", err)
	}

	now := r.now()
	interval := time.Duration(camp.DispatchIntervalSeconds) * time.Second

	for i, pos := range positions {
		at := now.Add(time.Duration(i) * interval)
		if err := r.requeue(ctx, pos, at); err != nil {
			return i, err
		}
	}

	r.metrics.ManualRetriesTotal.WithLabelValues("campaign").Inc()
	r.logger.Info("campaign re-queued", "campaign_id", campaignID, "positions", len(positions))
	return len(positions), nil
}

// RetryAll re-queues failed and disconnected positions across every
// campaign, staggered per campaign by that campaign's own interval, in
// global creation order. Returns the number of positions re-queued.
func (r *RetryService) RetryAll(ctx context.Context) (int, error) {
	positions, err := r.store.PositionsByStatus(ctx, "", crm.StatusFailed, crm.StatusDisconnected)
	if err != nil {
		return 0, fmt.Errorf("failed to load positions: %w", err)
	}

	campaigns, err := r.store.ListCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load campaigns: %w", err)
	}
	intervals := make(map[string]time.Duration, len(campaigns))
	for _, c := range campaigns {
		intervals[c.ID] = time.Duration(c.DispatchIntervalSeconds) * time.Second
	}

	now := r.now()
	offsets := make(map[string]int)
	requeued := 0

	for _, pos := range positions {
		interval, ok := intervals[pos.CampaignID]
		if !ok {
			r.logger.Warn("skipping position of unknown campaign", "position_id", pos.ID, "campaign_id", pos.CampaignID)
			continue
		}
		idx := offsets[pos.CampaignID]
		offsets[pos.CampaignID] = idx + 1

		at := now.Add(time.Duration(idx) * interval)
		if err := r.requeue(ctx, pos, at); err != nil {
			return requeued, err
		}
		requeued++
	}

	r.metrics.ManualRetriesTotal.WithLabelValues("all").Inc()
	r.logger.Info("all failed positions re-queued", "positions", requeued)
	return requeued, nil
}

func (r *RetryService) requeue(ctx context.Context, pos *crm.Position, at time.Time) error {
	pos.Status = crm.StatusPending
	pos.NextScheduledAt = &at
	pos.LastError = ""
	if err := r.store.PutPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to re-queue position %s: %w", pos.ID, err)
	}
	return nil
}
