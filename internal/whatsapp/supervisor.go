package whatsapp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zapline/zapline/internal/crm"
)

// ConnState represents the supervised session state
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SupervisorConfig contains reconnect and health-check settings
type SupervisorConfig struct {
	HealthInterval        time.Duration // how often to poll the gateway
	ReconnectMaxAttempts  int           // attempts per reconnect round
	ReconnectInitialDelay time.Duration
}

// Supervisor watches the gateway session and drives reconnection through
// an explicit Disconnected -> Connecting -> Connected state machine. It is
// independent of the dispatch circuit breaker: session loss and call
// failure are different failure modes.
//
// Supervisor implements dispatch.Channel by delegating sends to the
// underlying client.
type Supervisor struct {
	client         *Client
	healthInterval time.Duration
	maxAttempts    int
	initialDelay   time.Duration
	logger         *slog.Logger

	mu    sync.RWMutex
	state ConnState

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a session supervisor over the gateway client
func NewSupervisor(client *Client, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 15 * time.Second
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = 10
	}
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = 2 * time.Second
	}
	return &Supervisor{
		client:         client,
		healthInterval: cfg.HealthInterval,
		maxAttempts:    cfg.ReconnectMaxAttempts,
		initialDelay:   cfg.ReconnectInitialDelay,
		logger:         logger,
		state:          StateDisconnected,
		stopCh:         make(chan struct{}),
	}
}

// Start begins health polling in the background
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the supervisor
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// State returns the current session state
func (s *Supervisor) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected implements dispatch.Channel
func (s *Supervisor) Connected() bool {
	return s.State() == StateConnected
}

// SendText implements dispatch.Channel
func (s *Supervisor) SendText(ctx context.Context, to, text string) (string, error) {
	return s.client.SendText(ctx, to, text)
}

// SendMedia implements dispatch.Channel
func (s *Supervisor) SendMedia(ctx context.Context, to, url string, kind crm.MediaKind) (string, error) {
	return s.client.SendMedia(ctx, to, url, kind)
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	// Probe immediately so the first tick does not wait a full interval
	s.check(ctx)

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check polls the gateway once and runs a reconnect round on session loss
func (s *Supervisor) check(ctx context.Context) {
	connected, err := s.client.Status(ctx)
	if err == nil && connected {
		s.setState(StateConnected)
		return
	}
	if err != nil {
		s.logger.Warn("gateway health check failed", "error", err)
	}

	s.reconnect(ctx)
}

// reconnect drives one bounded round of reconnection attempts with
// exponential backoff. If the round is exhausted the session stays
// disconnected until the next health tick starts a fresh round.
func (s *Supervisor) reconnect(ctx context.Context) {
	s.setState(StateConnecting)

	delay := s.initialDelay
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.client.Connect(ctx); err != nil {
			s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		} else if connected, err := s.client.Status(ctx); err == nil && connected {
			s.logger.Info("gateway session reconnected", "attempt", attempt)
			s.setState(StateConnected)
			return
		}

		if attempt == s.maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateDisconnected)
			return
		case <-s.stopCh:
			timer.Stop()
			s.setState(StateDisconnected)
			return
		case <-timer.C:
		}
		delay *= 2
	}

	s.logger.Error("gateway reconnect round exhausted", "attempts", s.maxAttempts)
	s.setState(StateDisconnected)
}

func (s *Supervisor) setState(state ConnState) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()

	if old != state {
		s.logger.Info("gateway session state changed", "from", old.String(), "to", state.String())
	}
}
