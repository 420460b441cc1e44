// Package store persists accounts, deals, pipeline reference data,
// stage history, and the sync log. All access is by primary or unique
// key; the sync path issues no ad hoc queries.
package store

import (
	"context"

	"github.com/zerochurn/success-sync/internal/model"
)

// Store is the persistence interface for the sync subsystem. Lookups
// return (nil, nil) when the record does not exist.
type Store interface {
	// Accounts
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	UpsertAccount(ctx context.Context, a *model.Account) error
	HealthSummary(ctx context.Context) (*model.HealthSummary, error)

	// Deals
	GetDealByCRMID(ctx context.Context, crmID string) (*model.Deal, error)
	UpsertDeal(ctx context.Context, d *model.Deal) error
	UpsertDealContact(ctx context.Context, c *model.DealContact) error
	ListDealContacts(ctx context.Context, dealID string) ([]model.DealContact, error)

	// Pipeline reference data, replaced wholesale on each CRM sync.
	ReplacePipelines(ctx context.Context, pipelines []model.Pipeline, stages []model.PipelineStage) error

	// Stage history: append-only, no update or delete exists.
	LatestStageEntry(ctx context.Context, dealID string) (*model.StageEntry, error)
	AppendStageEntry(ctx context.Context, e *model.StageEntry) error
	ListStageEntries(ctx context.Context, dealID string) ([]model.StageEntry, error)

	// Sync log
	StartSyncRun(ctx context.Context, source model.SyncSource) (int64, error)
	CompleteSyncRun(ctx context.Context, id int64, found, synced, failed int) error
	FailSyncRun(ctx context.Context, id int64, errMsg string) error
	LatestSyncRun(ctx context.Context, source model.SyncSource) (*model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
