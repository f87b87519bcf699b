package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/config"
	"github.com/sells-group/regenmark/internal/docstore"
	"github.com/sells-group/regenmark/internal/evaluation"
	"github.com/sells-group/regenmark/internal/monitoring"
	"github.com/sells-group/regenmark/internal/notify"
	"github.com/sells-group/regenmark/internal/scorer"
	"github.com/sells-group/regenmark/internal/store"
)

// appEnv holds everything the serve and sweep commands need.
type appEnv struct {
	Store       store.Store
	Catalog     *catalog.Catalog
	Scorer      *scorer.Scorer
	Issuer      *certify.Issuer
	Evaluations *evaluation.Service
	Monitor     *monitoring.Monitor
	Notifier    notify.Notifier

	closers []func() error
}

// Close releases resources held by the environment, newest first.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initEnv validates cfg for mode, opens and migrates the store and wires the
// services. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cat, err := catalog.New(cfg.Certification)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Catalog: cat, Scorer: scorer.New(cat)}
	env.closers = append(env.closers, st.Close)

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	n, closeNotifier := initNotifier(cfg.Notify)
	env.Notifier = n
	if closeNotifier != nil {
		env.closers = append(env.closers, closeNotifier)
	}

	env.Issuer = certify.New(st, cat, certify.WithNotifier(n))
	env.Monitor = monitoring.NewMonitor(st, env.Issuer, cat, cfg.Expiry)

	if mode == "serve" {
		docs, err := docstore.New(ctx, cfg.Documents)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Evaluations = evaluation.New(st, env.Issuer, env.Scorer, docs,
			evaluation.WithNotifier(n),
			evaluation.WithMaxUpload(int64(cfg.Server.MaxUploadMB)<<20),
		)
	}

	zap.L().Info("environment ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.String("notify", cfg.Notify.Driver),
		zap.String("documents", cfg.Documents.Driver),
		zap.String("config_hash", scorer.ConfigHash(cat)),
	)
	return env, nil
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "regenmark.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// initNotifier returns the configured notifier wrapped with deep links, and
// a close func when the notifier holds a connection.
func initNotifier(nc config.NotifyConfig) (notify.Notifier, func() error) {
	var (
		next    notify.Notifier = notify.LogNotifier{}
		closeFn func() error
	)
	if nc.Driver == "amqp" {
		a := notify.NewAMQP(notify.AMQPConfig{
			URL:              nc.AMQPURL,
			Queue:            nc.Queue,
			RetryAttempts:    nc.RetryAttempts,
			BreakerThreshold: nc.BreakerThreshold,
			BreakerReset:     time.Duration(nc.BreakerResetSecs) * time.Second,
		})
		next, closeFn = a, a.Close
	}
	return notify.Linker{BaseURL: nc.AppBaseURL, Next: next}, closeFn
}
