// Package monitoring runs the periodic expiry sweep that keeps certification
// statuses and owner scores current as marks age.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/config"
	"github.com/sells-group/regenmark/internal/store"
)

const defaultInterval = time.Hour

// Monitor finds marks that crossed an expiry boundary and recomputes their
// owners.
type Monitor struct {
	store       store.Store
	issuer      *certify.Issuer
	cat         *catalog.Catalog
	cfg         config.ExpiryConfig
	concurrency int
	limiter     *rate.Limiter
	now         func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source used to pick candidate marks.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates an expiry monitor.
func NewMonitor(st store.Store, issuer *certify.Issuer, cat *catalog.Catalog, cfg config.ExpiryConfig, opts ...Option) *Monitor {
	m := &Monitor{
		store:       st,
		issuer:      issuer,
		cat:         cat,
		cfg:         cfg,
		concurrency: cfg.Concurrency,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		now:         time.Now,
	}
	if m.concurrency < 1 {
		m.concurrency = 1
	}
	if cfg.OwnersPerSec > 0 {
		burst := int(cfg.OwnersPerSec)
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.OwnersPerSec), burst)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps once immediately and then on every interval tick. It blocks
// until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.expiry"))
	log.Info("starting expiry monitor",
		zap.Duration("interval", interval),
		zap.Int("concurrency", m.concurrency),
		zap.Float64("owners_per_sec", m.cfg.OwnersPerSec),
	)

	m.check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("expiry monitor stopped")
			return
		case <-ticker.C:
			m.check(ctx, log)
		}
	}
}

func (m *Monitor) check(ctx context.Context, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	report, err := m.Sweep(ctx)
	if err != nil {
		log.Error("monitoring: expiry sweep failed", zap.Error(err))
		return
	}
	if report.Owners == 0 {
		log.Debug("monitoring: no marks near expiry")
		return
	}
	log.Info("monitoring: expiry sweep complete",
		zap.Int("owners", report.Owners),
		zap.Int("expiring_soon", report.ExpiringSoon),
		zap.Int("expired", report.Expired),
		zap.Int("tier_changes", report.TierChanges),
		zap.Int("failed", report.Failed),
	)
}
