package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerochurn/success-sync/internal/model"
)

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock always enforces the
// argument count, so expectations that don't care about values still need
// placeholders of the right arity.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetDealByCRMID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM deals WHERE crm_id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	deal, err := s.GetDealByCRMID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, deal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestStageEntry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM deal_stage_history WHERE deal_id = \$1`).
		WithArgs("deal-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	entry, err := s.LatestStageEntry(context.Background(), "deal-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSyncRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM sync_log WHERE source = \$1`).
		WithArgs("crm").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	run, err := s.LatestSyncRun(context.Background(), model.SourceCRM)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SyncRunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO sync_log \(source, status, started_at\)`).
		WithArgs("crm").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.StartSyncRun(context.Background(), model.SourceCRM)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	mock.ExpectExec(`UPDATE sync_log SET status = 'completed'`).
		WithArgs(10, 9, 1, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteSyncRun(context.Background(), 7, 10, 9, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailSyncRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_log SET status = 'failed'`).
		WithArgs("upstream fetch failed", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailSyncRun(context.Background(), 3, "upstream fetch failed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAccount_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO accounts .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(anyArgs(23)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	a := &model.Account{Name: "Acme", Domain: "acme.com"}
	require.NoError(t, s.UpsertAccount(context.Background(), a))
	assert.NotEmpty(t, a.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDeal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO deals .* ON CONFLICT \(crm_id\) DO UPDATE`).
		WithArgs(anyArgs(18)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	now := time.Now().UTC()
	d := &model.Deal{CRMID: "crm-d1", Name: "Renewal", Amount: 5000, LastSyncedAt: &now}
	require.NoError(t, s.UpsertDeal(context.Background(), d))
	assert.NotEmpty(t, d.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HealthSummary(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT health_category, COUNT\(\*\), COALESCE\(SUM\(health_score\), 0\) FROM accounts GROUP BY health_category`).
		WillReturnRows(pgxmock.NewRows([]string{"health_category", "count", "sum"}).
			AddRow("green", 2, int64(180)).
			AddRow("red", 1, int64(20)))

	summary, err := s.HealthSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalAccounts)
	assert.Equal(t, 2, summary.ByCategory[model.HealthGreen])
	assert.Equal(t, 1, summary.ByCategory[model.HealthRed])
	assert.InDelta(t, 200.0/3, summary.AverageScore, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplacePipelines(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM pipeline_stages`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM pipelines`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO pipelines`).
		WithArgs("default", "Sales", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO pipeline_stages`).
		WithArgs("s1", "default", "Qualified", 0, 0.2, false, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.ReplacePipelines(context.Background(),
		[]model.Pipeline{{CRMID: "default", Label: "Sales"}},
		[]model.PipelineStage{{CRMID: "s1", PipelineID: "default", Label: "Qualified", Probability: 0.2}},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
