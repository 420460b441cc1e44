package syncer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/resolve"
	"github.com/zerochurn/success-sync/internal/source"
)

// SyncUsage runs the product-analytics pass: match each usage customer
// to an account, refresh its engagement counters, and rescore. Like the
// payments pass, unmatched customers are recorded and skipped.
func (s *Syncer) SyncUsage(ctx context.Context) (*Summary, error) {
	if s.usage == nil {
		return nil, eris.New("syncer: usage source not configured")
	}
	return s.run(ctx, model.SourceUsage, s.syncUsage)
}

func (s *Syncer) syncUsage(ctx context.Context, sum *Summary) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	idx := resolve.BuildIndex(accounts, func(a *model.Account) string { return a.AnalyticsID })

	customers, err := s.usage.ListCustomers(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	for _, cust := range customers {
		sum.RecordsFound++

		acct, strategy := resolve.Resolve(resolve.Record{
			ExternalID: cust.CustomerID,
			Name:       cust.Name,
			Domain:     cust.Domain,
		}, idx)
		if acct == nil {
			sum.Unmatched++
			zap.L().Debug("usage customer unmatched", zap.String("customer_id", cust.CustomerID))
			continue
		}
		sum.Matched++
		zap.L().Debug("usage customer resolved",
			zap.String("customer_id", cust.CustomerID),
			zap.String("account_id", acct.ID),
			zap.String("strategy", strategy))

		acct.AnalyticsID = cust.CustomerID
		acct.TotalEvents = cust.TotalEvents
		acct.EventsLast30Days = cust.EventsLast30Days
		acct.DaysSinceActivity = source.DaysSince(cust.LastActivityAt, now)
		acct.LastSyncedAt = &now

		s.rescore(acct)

		if err := s.store.UpsertAccount(ctx, acct); err != nil {
			sum.RecordsFailed++
			zap.L().Warn("usage customer sync failed",
				zap.String("customer_id", cust.CustomerID),
				zap.Error(err))
			continue
		}
		sum.RecordsSynced++
	}
	return nil
}
