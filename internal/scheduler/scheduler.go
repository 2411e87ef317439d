package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alquemyfin/bankinplay-connect/internal/eventbus"
	"github.com/alquemyfin/bankinplay-connect/pkg/logger"
)

// Scheduler publishes periodic fetch events covering a trailing window of
// days. Each tick requests the range [today-lookback, today].
type Scheduler struct {
	bus      eventbus.EventBus
	interval time.Duration
	lookback int
	logger   *logger.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(bus eventbus.EventBus, interval time.Duration, lookbackDays int, log *logger.Logger) *Scheduler {
	return &Scheduler{
		bus:      bus,
		interval: interval,
		lookback: lookbackDays,
		logger:   log,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info(ctx, "Scheduler started",
		"interval", s.interval,
		"lookback_days", s.lookback,
	)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Trigger(ctx); err != nil {
				s.logger.Error(ctx, "Failed to publish fetch event", "error", err)
			}
		}
	}
}

// Trigger publishes one fetch event for the current trailing window.
func (s *Scheduler) Trigger(ctx context.Context) error {
	now := time.Now().UTC().Truncate(24 * time.Hour)

	return s.bus.Publish(ctx, eventbus.Event{
		ID:   uuid.New().String(),
		Type: eventbus.EventTypeFetch,
		Payload: eventbus.FetchEvent{
			DateSince: now.AddDate(0, 0, -s.lookback),
			DateUntil: now,
		},
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info(ctx, "Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
