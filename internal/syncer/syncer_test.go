package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerochurn/success-sync/internal/health"
	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/source"
	"github.com/zerochurn/success-sync/internal/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeCRM struct {
	pipelines []source.CRMPipeline
	owners    []source.CRMOwner
	companies []source.CRMCompany
	deals     []source.CRMDeal
	contacts  map[string]*source.CRMContact

	companiesErr error
	contactErrs  map[string]error
}

func (f *fakeCRM) ListPipelines(context.Context) ([]source.CRMPipeline, error) {
	return f.pipelines, nil
}

func (f *fakeCRM) ListOwners(context.Context) ([]source.CRMOwner, error) {
	return f.owners, nil
}

func (f *fakeCRM) ListCompanies(context.Context) ([]source.CRMCompany, error) {
	return f.companies, f.companiesErr
}

func (f *fakeCRM) ListDeals(context.Context) ([]source.CRMDeal, error) {
	return f.deals, nil
}

func (f *fakeCRM) GetContact(_ context.Context, id string) (*source.CRMContact, error) {
	if err := f.contactErrs[id]; err != nil {
		return nil, err
	}
	c, ok := f.contacts[id]
	if !ok {
		return nil, eris.Errorf("no such contact %s", id)
	}
	return c, nil
}

type fakePayments struct {
	customers []source.PaymentsCustomer
	charges   map[string][]source.PaymentsCharge
}

func (f *fakePayments) ListCustomers(context.Context) ([]source.PaymentsCustomer, error) {
	return f.customers, nil
}

func (f *fakePayments) ListCharges(_ context.Context, customerID string) ([]source.PaymentsCharge, error) {
	return f.charges[customerID], nil
}

type fakeUsage struct {
	customers []source.UsageCustomer
}

func (f *fakeUsage) ListCustomers(context.Context) ([]source.UsageCustomer, error) {
	return f.customers, nil
}

func newTestSyncer(t *testing.T, crm CRMSource, payments source.PaymentsClient, usage UsageSource) (*Syncer, store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	sy := New(st, crm, payments, usage, health.NewScorer(health.DefaultWeights()))
	sy.now = func() time.Time { return testNow }
	return sy, st
}

func assocList(ids ...string) source.AssocList {
	refs := make([]source.AssocRef, len(ids))
	for i, id := range ids {
		refs[i] = source.AssocRef{ID: id}
	}
	return source.AssocList{Results: refs}
}

func testCRM() *fakeCRM {
	return &fakeCRM{
		pipelines: []source.CRMPipeline{{
			ID:    "default",
			Label: "Sales Pipeline",
			Stages: []source.CRMStage{
				{ID: "s1", Label: "Qualified", Metadata: source.StageMetadata{IsClosed: "false", Probability: "0.2"}},
				{ID: "s2", Label: "Closed Won", DisplayOrder: 1, Metadata: source.StageMetadata{IsClosed: "true", Probability: "1.0"}},
			},
		}},
		owners: []source.CRMOwner{{ID: "o1", Email: "csm@vendor.com"}},
		companies: []source.CRMCompany{
			{ID: "c1", Properties: source.CompanyProperties{
				Name: "Acme", Domain: "acme.com", MRR: "1200", Plan: "pro",
				LifecycleStage: "customer", OwnerID: "o1",
			}},
			{ID: "c2", Properties: source.CompanyProperties{
				Name: "Globex", Domain: "globex.com", Churned: "true",
			}},
		},
		deals: []source.CRMDeal{{
			ID: "d1",
			Properties: source.DealProperties{
				Name: "Acme Renewal", Amount: "5000", Pipeline: "default",
				Stage: "s1", CreateDate: "2026-01-15T00:00:00Z", OwnerID: "o1",
			},
			Associations: source.DealAssociations{
				Companies: assocList("c1"),
				Contacts:  assocList("p1"),
			},
		}},
		contacts: map[string]*source.CRMContact{
			"p1": {ID: "p1", Properties: source.ContactProperties{
				Email: "jane@acme.com", FirstName: "Jane", LastName: "Doe",
				JobTitle: "VP of Engineering",
			}},
		},
	}
}

func TestSyncCRM_CreatesAccountsAndDeals(t *testing.T) {
	sy, st := newTestSyncer(t, testCRM(), nil, nil)
	ctx := context.Background()

	sum, err := sy.SyncCRM(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.RecordsFound)
	assert.Equal(t, 3, sum.RecordsSynced)
	assert.Equal(t, 0, sum.RecordsFailed)
	assert.Equal(t, 2, sum.Created)
	assert.Equal(t, 0, sum.Matched)

	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	byCRM := make(map[string]*model.Account)
	for _, a := range accounts {
		byCRM[a.CRMID] = a
	}

	acme := byCRM["c1"]
	require.NotNil(t, acme)
	assert.Equal(t, "Acme", acme.Name)
	assert.Equal(t, "acme.com", acme.Domain)
	assert.Equal(t, 1200.0, acme.MRR)
	assert.Equal(t, "csm@vendor.com", acme.OwnerEmail)
	assert.Equal(t, model.HealthYellow, acme.HealthCategory)
	assert.Equal(t, 75, acme.HealthScore)

	globex := byCRM["c2"]
	require.NotNil(t, globex)
	assert.True(t, globex.Churned)
	assert.Equal(t, model.HealthRed, globex.HealthCategory)
	assert.Contains(t, globex.RiskSignals, "Marked churned in CRM")

	deal, err := st.GetDealByCRMID(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, deal)
	assert.Equal(t, acme.ID, deal.AccountID)
	assert.Equal(t, "s1", deal.StageID)
	assert.Equal(t, "default", deal.PipelineID)
	assert.False(t, deal.IsClosed)
	assert.Equal(t, 1, deal.StagesVisited)
	assert.Equal(t, 54, deal.DaysInPipeline)
	// One contact, a decision maker: 20 base + 10 depth.
	assert.Equal(t, 30, deal.ThreadingScore)

	entries, err := st.ListStageEntries(ctx, deal.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].FromStageID)
	assert.Equal(t, "s1", entries[0].ToStageID)

	run, err := st.LatestSyncRun(ctx, model.SourceCRM)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.SyncCompleted, run.Status)
	assert.Equal(t, 3, run.RecordsFound)
}

func TestSyncCRM_RerunIsIdempotent(t *testing.T) {
	crm := testCRM()
	sy, st := newTestSyncer(t, crm, nil, nil)
	ctx := context.Background()

	_, err := sy.SyncCRM(ctx)
	require.NoError(t, err)
	first, err := st.ListAccounts(ctx)
	require.NoError(t, err)

	sum, err := sy.SyncCRM(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Created)
	assert.Equal(t, 2, sum.Matched)

	second, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, second, len(first))

	scores := func(accounts []*model.Account) map[string]int {
		m := make(map[string]int)
		for _, a := range accounts {
			m[a.CRMID] = a.HealthScore
		}
		return m
	}
	assert.Equal(t, scores(first), scores(second))

	deal, err := st.GetDealByCRMID(ctx, "d1")
	require.NoError(t, err)
	entries, err := st.ListStageEntries(ctx, deal.ID)
	require.NoError(t, err)
	// No stage change, no new history.
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, deal.StagesVisited)
}

func TestSyncCRM_StageChangeAppendsOneEntry(t *testing.T) {
	crm := testCRM()
	sy, st := newTestSyncer(t, crm, nil, nil)
	ctx := context.Background()

	_, err := sy.SyncCRM(ctx)
	require.NoError(t, err)

	crm.deals[0].Properties.Stage = "s2"
	sy.now = func() time.Time { return testNow.AddDate(0, 0, 6) }

	_, err = sy.SyncCRM(ctx)
	require.NoError(t, err)

	deal, err := st.GetDealByCRMID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "s2", deal.StageID)
	assert.True(t, deal.IsClosed)
	assert.True(t, deal.IsWon)
	require.NotNil(t, deal.ClosedDate)
	assert.Equal(t, 2, deal.StagesVisited)
	assert.Equal(t, 0, deal.DaysInCurrentStage)

	entries, err := st.ListStageEntries(ctx, deal.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	latest := entries[1]
	assert.Equal(t, "s1", latest.FromStageID)
	assert.Equal(t, "s2", latest.ToStageID)
	assert.Equal(t, 6, latest.DaysInPreviousStage)
}

func TestSyncCRM_FetchFailureMarksRunFailed(t *testing.T) {
	crm := testCRM()
	crm.companiesErr = eris.New("crm is down")
	sy, st := newTestSyncer(t, crm, nil, nil)
	ctx := context.Background()

	_, err := sy.SyncCRM(ctx)
	require.Error(t, err)

	run, err := st.LatestSyncRun(ctx, model.SourceCRM)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.SyncFailed, run.Status)
	assert.Contains(t, run.Error, "crm is down")
	require.NotNil(t, run.CompletedAt)
}

func TestSyncCRM_RecordFailureDoesNotAbortRun(t *testing.T) {
	crm := testCRM()
	crm.contactErrs = map[string]error{"p1": eris.New("contact fetch failed")}
	sy, st := newTestSyncer(t, crm, nil, nil)
	ctx := context.Background()

	sum, err := sy.SyncCRM(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.RecordsFound)
	assert.Equal(t, 2, sum.RecordsSynced)
	assert.Equal(t, 1, sum.RecordsFailed)

	// The companies still landed.
	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	run, err := st.LatestSyncRun(ctx, model.SourceCRM)
	require.NoError(t, err)
	assert.Equal(t, model.SyncCompleted, run.Status)
	assert.Equal(t, 1, run.RecordsFailed)
}

func TestSyncCRM_NotConfigured(t *testing.T) {
	sy, st := newTestSyncer(t, nil, nil, nil)
	ctx := context.Background()

	_, err := sy.SyncCRM(ctx)
	require.Error(t, err)

	// Rejected before any work: no log row.
	run, err := st.LatestSyncRun(ctx, model.SourceCRM)
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestSyncPayments_AggregatesChargesAndRescores(t *testing.T) {
	payments := &fakePayments{
		customers: []source.PaymentsCustomer{
			{ID: "cus_1", Email: "billing@acme.com", Name: "Acme Inc", Domain: "acme.com"},
			{ID: "cus_999", Email: "who@unknown.io", Name: "Mystery Co", Domain: "unknown.io"},
		},
		charges: map[string][]source.PaymentsCharge{
			"cus_1": {
				{ID: "ch_1", Amount: 1200, Paid: true},
				{ID: "ch_2", Amount: 1200, Paid: true, Disputed: true},
				{ID: "ch_3", Amount: 1200, Paid: false},
			},
		},
	}
	sy, st := newTestSyncer(t, nil, payments, nil)
	ctx := context.Background()

	// Seed the account the CRM sync would have created.
	seed := &model.Account{Name: "Acme", Domain: "acme.com", CRMID: "c1", MRR: 1200, DaysSinceActivity: -1}
	require.NoError(t, st.UpsertAccount(ctx, seed))

	sum, err := sy.SyncPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.RecordsFound)
	assert.Equal(t, 1, sum.RecordsSynced)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 1, sum.Unmatched)

	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	acct := accounts[0]
	assert.Equal(t, "cus_1", acct.PaymentsID)
	require.NotNil(t, acct.PaymentStats)
	assert.Equal(t, 3, acct.PaymentStats.ChargeCount)
	assert.Equal(t, 1, acct.PaymentStats.FailedCharges)
	assert.Equal(t, 1, acct.PaymentStats.Disputes)
	assert.InDelta(t, 2.0/3, acct.PaymentStats.SuccessRate, 0.001)
	assert.InDelta(t, 2400, acct.PaymentStats.TotalVolume, 0.001)

	// The dispute forces the category to red regardless of the blend.
	assert.Equal(t, model.HealthRed, acct.HealthCategory)
	assert.Contains(t, acct.RiskSignals, "1 payment disputes")
}

func TestSyncPayments_MatchesByDomainFromEmail(t *testing.T) {
	payments := &fakePayments{
		customers: []source.PaymentsCustomer{
			{ID: "cus_2", Email: "ap@globex.com", Name: "GLOBEX LLC", Domain: "globex.com"},
		},
	}
	sy, st := newTestSyncer(t, nil, payments, nil)
	ctx := context.Background()

	seed := &model.Account{Name: "Globex", Domain: "globex.com", DaysSinceActivity: -1}
	require.NoError(t, st.UpsertAccount(ctx, seed))

	sum, err := sy.SyncPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Matched)

	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cus_2", accounts[0].PaymentsID)
	// The customer has no charges yet; zero-charge stats must not read
	// as a failing success rate.
	assert.NotContains(t, accounts[0].RiskSignals, "Critical payment success rate (0%)")
	assert.NotEqual(t, model.HealthRed, accounts[0].HealthCategory)
}

func TestSyncUsage_UpdatesEngagement(t *testing.T) {
	lastActive := testNow.AddDate(0, 0, -45)
	usage := &fakeUsage{customers: []source.UsageCustomer{
		{CustomerID: "u1", Name: "Acme", Domain: "acme.com", TotalEvents: 150, EventsLast30Days: 0, LastActivityAt: &lastActive},
		{CustomerID: "u2", Name: "Nobody", Domain: "nowhere.example"},
	}}
	sy, st := newTestSyncer(t, nil, nil, usage)
	ctx := context.Background()

	seed := &model.Account{Name: "Acme", Domain: "acme.com", MRR: 1500, DaysSinceActivity: -1}
	require.NoError(t, st.UpsertAccount(ctx, seed))

	sum, err := sy.SyncUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.RecordsFound)
	assert.Equal(t, 1, sum.RecordsSynced)
	assert.Equal(t, 1, sum.Unmatched)

	accounts, err := st.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	acct := accounts[0]
	assert.Equal(t, "u1", acct.AnalyticsID)
	assert.Equal(t, int64(150), acct.TotalEvents)
	assert.Equal(t, int64(0), acct.EventsLast30Days)
	assert.Equal(t, 45, acct.DaysSinceActivity)
	assert.Contains(t, acct.RiskSignals, "Usage stopped")
	assert.Contains(t, acct.RiskSignals, "No activity in 30+ days")
}

func TestSignalsFor_CarriesPaymentStats(t *testing.T) {
	a := &model.Account{
		MRR:          500,
		Churned:      true,
		PaymentStats: &model.PaymentStats{ChargeCount: 4, SuccessRate: 0.75, Disputes: 1},
	}
	sig := signalsFor(a)
	assert.True(t, sig.HasPaymentData)
	assert.Equal(t, 4, sig.ChargeCount)
	assert.Equal(t, 1, sig.Disputes)
	assert.True(t, sig.Churned)

	sig = signalsFor(&model.Account{})
	assert.False(t, sig.HasPaymentData)
}
