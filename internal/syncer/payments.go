package syncer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/resolve"
	"github.com/zerochurn/success-sync/internal/source"
)

// SyncPayments runs the payments pass: match each payment customer to
// an account, aggregate its charges, and rescore. Payment customers
// never create accounts; an unmatched customer is recorded and skipped.
func (s *Syncer) SyncPayments(ctx context.Context) (*Summary, error) {
	if s.payments == nil {
		return nil, eris.New("syncer: payments source not configured")
	}
	return s.run(ctx, model.SourcePayments, s.syncPayments)
}

func (s *Syncer) syncPayments(ctx context.Context, sum *Summary) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	idx := resolve.BuildIndex(accounts, func(a *model.Account) string { return a.PaymentsID })

	customers, err := s.payments.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, cust := range customers {
		sum.RecordsFound++

		acct, strategy := resolve.Resolve(resolve.Record{
			ExternalID: cust.ID,
			Name:       cust.Name,
			Domain:     cust.Domain,
		}, idx)
		if acct == nil {
			sum.Unmatched++
			zap.L().Debug("payment customer unmatched", zap.String("customer_id", cust.ID))
			continue
		}
		sum.Matched++
		zap.L().Debug("payment customer resolved",
			zap.String("customer_id", cust.ID),
			zap.String("account_id", acct.ID),
			zap.String("strategy", strategy))

		if err := s.syncPaymentCustomer(ctx, acct, cust); err != nil {
			sum.RecordsFailed++
			zap.L().Warn("payment customer sync failed",
				zap.String("customer_id", cust.ID),
				zap.Error(err))
			continue
		}
		sum.RecordsSynced++
	}
	return nil
}

func (s *Syncer) syncPaymentCustomer(ctx context.Context, acct *model.Account, cust source.PaymentsCustomer) error {
	charges, err := s.payments.ListCharges(ctx, cust.ID)
	if err != nil {
		return err
	}

	acct.PaymentsID = cust.ID
	acct.PaymentStats = aggregateCharges(charges)
	now := s.now()
	acct.LastSyncedAt = &now

	s.rescore(acct)
	return s.store.UpsertAccount(ctx, acct)
}

// aggregateCharges reduces a customer's charges to the persisted stats.
func aggregateCharges(charges []source.PaymentsCharge) *model.PaymentStats {
	stats := &model.PaymentStats{ChargeCount: len(charges)}
	paid := 0
	for _, ch := range charges {
		if ch.Paid {
			paid++
			stats.TotalVolume += ch.Amount
		} else {
			stats.FailedCharges++
		}
		if ch.Disputed {
			stats.Disputes++
		}
		if ch.RiskScore > stats.MaxRiskScore {
			stats.MaxRiskScore = ch.RiskScore
		}
	}
	if stats.ChargeCount > 0 {
		stats.SuccessRate = float64(paid) / float64(stats.ChargeCount)
	}
	return stats
}
