// Package cleanup sweeps expired sealed records from stores without native expiry.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExpiredRecordStore exposes cleanup for expired sealed records.
type ExpiredRecordStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Service periodically removes expired sealed records.
type Service struct {
	store    ExpiredRecordStore
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
	deleted  prometheus.Counter
}

// Option configures Service.
type Option func(*Service)

// WithInterval overrides the sweep interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithLogger overrides the logger used for sweep errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics counts deleted records on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.deleted = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "once_expired_records_deleted_total",
			Help: "Sealed records removed by the expiry sweeper",
		})
	}
}

// New constructs a Service for store.
func New(store ExpiredRecordStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	svc := &Service{
		store:    store,
		interval: 30 * time.Second,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs the sweep periodically until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sealed record cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep and returns the number of deleted records.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("delete expired sealed records: %w", err)
	}
	if deleted > 0 {
		if s.deleted != nil {
			s.deleted.Add(float64(deleted))
		}
		s.logger.DebugContext(ctx, "expired sealed records removed", "count", deleted)
	}
	return deleted, nil
}
