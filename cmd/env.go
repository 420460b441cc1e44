package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/zerochurn/success-sync/internal/config"
	"github.com/zerochurn/success-sync/internal/health"
	"github.com/zerochurn/success-sync/internal/source"
	"github.com/zerochurn/success-sync/internal/store"
	"github.com/zerochurn/success-sync/internal/syncer"
)

// env is the shared wiring for commands that touch the store and the
// external sources.
type env struct {
	store  store.Store
	syncer *syncer.Syncer
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	weights, err := health.LoadWeights(cfg.Scoring.WeightsPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	scorer := health.NewScorer(weights)

	opts := source.Options{
		MinInterval: cfg.Limiter.MinInterval,
		MaxRetries:  cfg.Limiter.MaxRetries,
	}

	var crm syncer.CRMSource
	if cfg.CRM.Token != "" {
		crm = source.NewCRMClient(cfg.CRM.BaseURL, cfg.CRM.Token, opts)
	}
	var payments source.PaymentsClient
	if cfg.Payments.APIKey != "" {
		payments = source.NewStripeClient(cfg.Payments.APIKey)
	}
	var usage syncer.UsageSource
	if cfg.Usage.BaseURL != "" {
		usage = source.NewUsageClient(cfg.Usage.BaseURL, cfg.Usage.APIKey, opts)
	}

	return &env{
		store:  st,
		syncer: syncer.New(st, crm, payments, usage, scorer),
	}, nil
}

func (e *env) Close() {
	e.store.Close()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
