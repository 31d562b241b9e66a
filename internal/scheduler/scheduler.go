// Package scheduler contains the outbound automation engine: the tick
// loop walking due positions, the eligibility gate, and the retry control
// surface.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zapline/zapline/internal/crm"
	"github.com/zapline/zapline/internal/dispatch"
	"github.com/zapline/zapline/internal/metrics"
	"github.com/zapline/zapline/internal/notify"
	"github.com/zapline/zapline/internal/store"
	"github.com/zapline/zapline/internal/template"
)

// Config contains scheduler loop settings
type Config struct {
	TickInterval time.Duration
}

// Scheduler walks due positions on a fixed tick and dispatches them
// sequentially. One instance owns all mutable engine state (breaker,
// invoker); construct isolated instances in tests.
type Scheduler struct {
	store    store.Store
	channel  dispatch.Channel
	invoker  *dispatch.Invoker
	breaker  *dispatch.Breaker
	gate     *Gate
	engine   *template.Engine
	notifier notify.Notifier
	metrics  *metrics.Metrics
	interval time.Duration
	logger   *slog.Logger

	// tickMu keeps ticks from overlapping: a tick that outlives the
	// interval (pacing sleeps included) causes the next one to be skipped
	tickMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	// swappable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler
func New(st store.Store, channel dispatch.Channel, invoker *dispatch.Invoker, breaker *dispatch.Breaker, notifier notify.Notifier, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	s := &Scheduler{
		store:    st,
		channel:  channel,
		invoker:  invoker,
		breaker:  breaker,
		gate:     NewGate(st, channel),
		engine:   template.NewEngine(),
		notifier: notifier,
		metrics:  m,
		interval: cfg.TickInterval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	s.sleep = s.pacingSleep
	return s
}

// Start runs the loop in the background: one tick immediately, then one
// per interval
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler", "tick_interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.RunTick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.RunTick(ctx)
			}
		}
	}()
}

// Stop stops the loop and waits for an in-flight tick to finish
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunTick executes one scheduling pass. Skipped when the previous tick is
// still running.
func (s *Scheduler) RunTick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.logger.Warn("previous tick still running, skipping")
		return
	}
	defer s.tickMu.Unlock()

	start := s.now()
	s.metrics.TicksTotal.Inc()
	defer func() {
		s.metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		s.logger.Error("failed to load settings", "error", err)
		return
	}
	if settings == nil {
		s.logger.Debug("no settings configured, skipping tick")
		return
	}

	now := s.now()
	due, err := s.store.DuePositions(ctx, now)
	if err != nil {
		s.logger.Error("failed to load due positions", "error", err)
		return
	}

	s.metrics.DuePositions.Set(float64(len(due)))
	s.observeGauges(ctx)

	if len(due) == 0 {
		return
	}
	s.logger.Debug("processing due positions", "count", len(due))

	for _, pos := range due {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		paceFor := s.processPosition(ctx, pos, settings)
		if paceFor > 0 {
			// Throttles total throughput across all campaigns so the
			// provider never sees a burst
			if err := s.sleep(ctx, paceFor); err != nil {
				return
			}
		}
	}
}

// processPosition handles one due position end to end and returns the
// pacing delay to apply before the next position, zero when the position
// was deferred without a dispatch attempt.
func (s *Scheduler) processPosition(ctx context.Context, pos *crm.Position, settings *crm.Settings) time.Duration {
	logger := s.logger.With("position_id", pos.ID, "campaign_id", pos.CampaignID, "lead_id", pos.LeadID)

	camp, err := s.store.GetCampaign(ctx, pos.CampaignID)
	if err != nil {
		logger.Error("failed to load campaign", "error", err)
		return 0
	}
	if camp == nil {
		logger.Warn("position references missing campaign, removing")
		if err := s.store.DeletePosition(ctx, pos.ID); err != nil {
			logger.Error("failed to remove orphaned position", "error", err)
		}
		return 0
	}
	if !camp.Active {
		return 0
	}

	lead, err := s.store.GetLead(ctx, pos.LeadID)
	if err != nil {
		logger.Error("failed to load lead", "error", err)
		return 0
	}
	if lead == nil {
		logger.Warn("position references missing lead, removing")
		if err := s.store.DeletePosition(ctx, pos.ID); err != nil {
			logger.Error("failed to remove orphaned position", "error", err)
		}
		return 0
	}

	now := s.now()
	decision, err := s.gate.Evaluate(ctx, pos, camp, settings, now)
	if err != nil {
		logger.Error("eligibility check failed", "error", err)
		return 0
	}
	if !decision.Eligible {
		s.metrics.MessagesDeferredTotal.WithLabelValues(string(decision.Reason)).Inc()
		logger.Debug("position deferred", "reason", decision.Reason)

		// Connectivity and rate-limit deferrals are surfaced as status so
		// operators can see them; period and business-hour deferrals are
		// silent and resolve on their own.
		switch decision.Reason {
		case BlockChannelDisconnected:
			s.writeStatus(ctx, pos, crm.StatusDisconnected, logger)
		case BlockRateLimited:
			s.writeStatus(ctx, pos, crm.StatusRateLimited, logger)
		}
		return 0
	}

	pos.Status = crm.StatusSending
	pos.LastAttemptAt = &now
	if err := s.store.PutPosition(ctx, pos); err != nil {
		logger.Error("failed to mark position sending", "error", err)
		return 0
	}

	text := s.engine.Render(camp.MessageTemplate, lead)

	msgID, err := s.invoker.Invoke(ctx, func(ctx context.Context) (string, error) {
		return s.channel.SendText(ctx, lead.Phone, text)
	})

	pacing := time.Duration(camp.DispatchIntervalSeconds) * time.Second

	if err != nil {
		s.recordFailure(ctx, pos, camp, err, logger)
		return pacing
	}

	s.sendMedia(ctx, camp, lead, logger)
	s.recordSuccess(ctx, pos, camp, lead, msgID, logger)
	return pacing
}

// sendMedia dispatches campaign attachments in order after the text. A
// media failure is logged but never reverts the text-send outcome.
func (s *Scheduler) sendMedia(ctx context.Context, camp *crm.Campaign, lead *crm.Lead, logger *slog.Logger) {
	for _, media := range camp.Media {
		media := media
		_, err := s.invoker.Invoke(ctx, func(ctx context.Context) (string, error) {
			return s.channel.SendMedia(ctx, lead.Phone, media.URL, media.Kind)
		})
		if err != nil {
			s.metrics.MediaFailedTotal.Inc()
			logger.Warn("media dispatch failed", "url", media.URL, "kind", media.Kind, "error", err)
			continue
		}
		s.metrics.MediaSentTotal.Inc()
	}
}

func (s *Scheduler) recordSuccess(ctx context.Context, pos *crm.Position, camp *crm.Campaign, lead *crm.Lead, msgID string, logger *slog.Logger) {
	now := s.now()
	policy := crm.EffectivePolicy(camp)

	next, ok := crm.NextSchedule(policy, now)
	if !ok {
		// One-off sends do not linger: the position is removed, not
		// flagged with a terminal status
		if err := s.store.DeletePosition(ctx, pos.ID); err != nil {
			logger.Error("failed to remove completed position", "error", err)
			return
		}
		logger.Info("one-off send complete, position removed", "message_id", msgID)
	} else {
		pos.Status = crm.StatusSent
		pos.LastSentAt = &now
		pos.NextScheduledAt = &next
		pos.MessagesSentCount++
		pos.LastError = ""
		pos.BypassGate = false
		pos.ManualRetry = false
		if err := s.store.PutPosition(ctx, pos); err != nil {
			logger.Error("failed to record send", "error", err)
			return
		}
		logger.Info("message dispatched", "message_id", msgID, "next_scheduled_at", next)
	}

	s.metrics.MessagesSentTotal.WithLabelValues(camp.Name).Inc()
	s.notifier.ConversationUpdated(ctx, notify.Event{
		Destination: lead.Phone,
		LeadID:      lead.ID,
		CampaignID:  camp.ID,
		MessageID:   msgID,
		SentAt:      now,
	})
}

func (s *Scheduler) recordFailure(ctx context.Context, pos *crm.Position, camp *crm.Campaign, dispatchErr error, logger *slog.Logger) {
	now := s.now()
	pos.Status = crm.StatusFailed
	pos.LastAttemptAt = &now
	pos.LastError = dispatchErr.Error()
	pos.BypassGate = false
	pos.ManualRetry = false
	if err := s.store.PutPosition(ctx, pos); err != nil {
		logger.Error("failed to record dispatch failure", "error", err)
	}

	s.metrics.MessagesFailedTotal.WithLabelValues(camp.Name).Inc()
	logger.Warn("dispatch failed", "error", dispatchErr)
}

func (s *Scheduler) writeStatus(ctx context.Context, pos *crm.Position, status crm.PositionStatus, logger *slog.Logger) {
	pos.Status = status
	if err := s.store.PutPosition(ctx, pos); err != nil {
		logger.Error("failed to write position status", "status", status, "error", err)
	}
}

// observeGauges refreshes the status and breaker gauges once per tick
func (s *Scheduler) observeGauges(ctx context.Context) {
	if stats, err := s.store.Stats(ctx); err == nil {
		s.metrics.Positions.WithLabelValues(string(crm.StatusPending)).Set(float64(stats.Pending))
		s.metrics.Positions.WithLabelValues(string(crm.StatusSending)).Set(float64(stats.Sending))
		s.metrics.Positions.WithLabelValues(string(crm.StatusSent)).Set(float64(stats.Sent))
		s.metrics.Positions.WithLabelValues(string(crm.StatusFailed)).Set(float64(stats.Failed))
		s.metrics.Positions.WithLabelValues(string(crm.StatusRateLimited)).Set(float64(stats.RateLimited))
		s.metrics.Positions.WithLabelValues(string(crm.StatusDisconnected)).Set(float64(stats.Disconnected))
	}

	s.metrics.BreakerState.Set(float64(s.breaker.State()))
	if s.channel.Connected() {
		s.metrics.ChannelConnected.Set(1)
	} else {
		s.metrics.ChannelConnected.Set(0)
	}
}

// pacingSleep waits out the per-campaign dispatch interval but wakes on
// shutdown so Stop never blocks for a full interval
func (s *Scheduler) pacingSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return context.Canceled
	case <-timer.C:
		return nil
	}
}
