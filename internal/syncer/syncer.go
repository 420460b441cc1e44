// Package syncer drives the per-source sync passes: fetch, resolve,
// score, upsert, and log. Runs are sequential within a source; the rate
// limiter in the source client serializes outbound calls anyway.
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zerochurn/success-sync/internal/health"
	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/source"
	"github.com/zerochurn/success-sync/internal/store"
)

// CRMSource is the CRM read surface the orchestrator depends on.
type CRMSource interface {
	ListPipelines(ctx context.Context) ([]source.CRMPipeline, error)
	ListOwners(ctx context.Context) ([]source.CRMOwner, error)
	ListCompanies(ctx context.Context) ([]source.CRMCompany, error)
	ListDeals(ctx context.Context) ([]source.CRMDeal, error)
	GetContact(ctx context.Context, id string) (*source.CRMContact, error)
}

// UsageSource is the product-analytics read surface.
type UsageSource interface {
	ListCustomers(ctx context.Context) ([]source.UsageCustomer, error)
}

// Summary is the result of one sync run, returned to the trigger
// endpoint and reflected in the sync log.
type Summary struct {
	Source        model.SyncSource `json:"source"`
	RecordsFound  int              `json:"recordsFound"`
	RecordsSynced int              `json:"recordsSynced"`
	RecordsFailed int              `json:"recordsFailed"`
	Matched       int              `json:"matched"`
	Created       int              `json:"created"`
	Unmatched     int              `json:"unmatched"`
}

// Syncer orchestrates sync runs across all sources against one store.
type Syncer struct {
	store    store.Store
	crm      CRMSource
	payments source.PaymentsClient
	usage    UsageSource
	scorer   *health.Scorer

	now func() time.Time
}

// New creates a Syncer. Any source may be nil; triggering a sync for a
// source that was not configured fails that run.
func New(st store.Store, crm CRMSource, payments source.PaymentsClient, usage UsageSource, scorer *health.Scorer) *Syncer {
	return &Syncer{
		store:    st,
		crm:      crm,
		payments: payments,
		usage:    usage,
		scorer:   scorer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// run wraps a sync pass in the sync-log lifecycle. The log row is
// created before any work and always finalized, even when the pass
// fails or the context is already cancelled.
func (s *Syncer) run(ctx context.Context, src model.SyncSource, work func(context.Context, *Summary) error) (*Summary, error) {
	runID, err := s.store.StartSyncRun(ctx, src)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Source: src}
	workErr := work(ctx, summary)

	// Finalize on a detached context so a cancelled run still closes
	// out its log row.
	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if workErr != nil {
		zap.L().Error("sync run failed",
			zap.String("source", string(src)),
			zap.Int64("run_id", runID),
			zap.Error(workErr))
		if err := s.store.FailSyncRun(finCtx, runID, workErr.Error()); err != nil {
			zap.L().Error("finalize failed sync run", zap.Int64("run_id", runID), zap.Error(err))
		}
		return nil, workErr
	}

	if err := s.store.CompleteSyncRun(finCtx, runID, summary.RecordsFound, summary.RecordsSynced, summary.RecordsFailed); err != nil {
		return nil, err
	}
	zap.L().Info("sync run completed",
		zap.String("source", string(src)),
		zap.Int64("run_id", runID),
		zap.Int("found", summary.RecordsFound),
		zap.Int("synced", summary.RecordsSynced),
		zap.Int("failed", summary.RecordsFailed))
	return summary, nil
}

// rescore recomputes the account's health from its persisted signals
// and writes the result back onto the record.
func (s *Syncer) rescore(a *model.Account) {
	res := s.scorer.Score(signalsFor(a))
	a.HealthScore = res.Score
	a.HealthCategory = res.Category
	a.SubScores = res.SubScores
	a.RiskSignals = res.RiskSignals
	a.PositiveSignals = res.PositiveSignals
}

// signalsFor assembles scorer input from the merged account record.
func signalsFor(a *model.Account) health.Signals {
	sig := health.Signals{
		TotalEvents:       a.TotalEvents,
		EventsLast30Days:  a.EventsLast30Days,
		DaysSinceActivity: a.DaysSinceActivity,
		MRR:               a.MRR,
		Plan:              a.Plan,
		LifecycleStage:    a.LifecycleStage,
		Churned:           a.Churned,
	}
	if ps := a.PaymentStats; ps != nil {
		sig.HasPaymentData = true
		sig.ChargeCount = ps.ChargeCount
		sig.FailedCharges = ps.FailedCharges
		sig.SuccessRate = ps.SuccessRate
		sig.Disputes = ps.Disputes
		sig.MaxRiskScore = ps.MaxRiskScore
		sig.TotalVolume = ps.TotalVolume
	}
	return sig
}
