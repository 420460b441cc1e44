package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/zerochurn/success-sync/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. It is the
// single-node alternative to Postgres and backs most of the store
// tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) a SQLite database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open %s", path)
	}
	// The modernc driver is not safe for concurrent writes on one file.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  TEXT PRIMARY KEY,
	crm_id              TEXT UNIQUE,
	payments_id         TEXT UNIQUE,
	analytics_id        TEXT UNIQUE,
	name                TEXT NOT NULL DEFAULT '',
	domain              TEXT NOT NULL DEFAULT '',
	mrr                 REAL NOT NULL DEFAULT 0,
	plan                TEXT NOT NULL DEFAULT '',
	lifecycle_stage     TEXT NOT NULL DEFAULT '',
	churned             INTEGER NOT NULL DEFAULT 0,
	payment_stats       TEXT,
	total_events        INTEGER NOT NULL DEFAULT 0,
	events_last_30_days INTEGER NOT NULL DEFAULT 0,
	days_since_activity INTEGER NOT NULL DEFAULT -1,
	health_category     TEXT NOT NULL DEFAULT 'unknown',
	health_score        INTEGER NOT NULL DEFAULT 0,
	sub_scores          TEXT,
	risk_signals        TEXT,
	positive_signals    TEXT,
	owner_email         TEXT NOT NULL DEFAULT '',
	last_synced_at      TIMESTAMP,
	source_created_at   TIMESTAMP,
	source_updated_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deals (
	id                    TEXT PRIMARY KEY,
	crm_id                TEXT NOT NULL UNIQUE,
	account_id            TEXT,
	name                  TEXT NOT NULL DEFAULT '',
	amount                REAL NOT NULL DEFAULT 0,
	pipeline_id           TEXT NOT NULL DEFAULT '',
	stage_id              TEXT NOT NULL DEFAULT '',
	created_date          TIMESTAMP,
	close_date            TIMESTAMP,
	closed_date           TIMESTAMP,
	owner_email           TEXT NOT NULL DEFAULT '',
	is_closed             INTEGER NOT NULL DEFAULT 0,
	is_won                INTEGER NOT NULL DEFAULT 0,
	days_in_pipeline      INTEGER NOT NULL DEFAULT 0,
	days_in_current_stage INTEGER NOT NULL DEFAULT 0,
	stages_visited        INTEGER NOT NULL DEFAULT 0,
	threading_score       INTEGER NOT NULL DEFAULT 0,
	last_synced_at        TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pipelines (
	crm_id        TEXT PRIMARY KEY,
	label         TEXT NOT NULL DEFAULT '',
	display_order INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pipeline_stages (
	crm_id        TEXT PRIMARY KEY,
	pipeline_id   TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	display_order INTEGER NOT NULL DEFAULT 0,
	probability   REAL NOT NULL DEFAULT 0,
	is_closed     INTEGER NOT NULL DEFAULT 0,
	is_won        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deal_stage_history (
	id                     TEXT PRIMARY KEY,
	deal_id                TEXT NOT NULL,
	from_stage_id          TEXT NOT NULL DEFAULT '',
	to_stage_id            TEXT NOT NULL,
	days_in_previous_stage INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS deal_contacts (
	id      TEXT PRIMARY KEY,
	deal_id TEXT NOT NULL,
	email   TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	title   TEXT NOT NULL DEFAULT '',
	role    TEXT NOT NULL DEFAULT 'user',
	UNIQUE (deal_id, email)
);

CREATE TABLE IF NOT EXISTS sync_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	records_found  INTEGER NOT NULL DEFAULT 0,
	records_synced INTEGER NOT NULL DEFAULT 0,
	records_failed INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	started_at     TIMESTAMP NOT NULL,
	completed_at   TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deals_account_id ON deals(account_id);
CREATE INDEX IF NOT EXISTS idx_stage_history_deal ON deal_stage_history(deal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_stages_pipeline ON pipeline_stages(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list accounts")
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "sqlite: list accounts iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	var crmID, paymentsID, analyticsID *string
	var paymentStats, subScores, riskSignals, positiveSignals sql.NullString

	err := row.Scan(
		&a.ID, &crmID, &paymentsID, &analyticsID, &a.Name, &a.Domain, &a.MRR, &a.Plan,
		&a.LifecycleStage, &a.Churned, &paymentStats, &a.TotalEvents, &a.EventsLast30Days, &a.DaysSinceActivity,
		&a.HealthCategory, &a.HealthScore, &subScores, &riskSignals, &positiveSignals,
		&a.OwnerEmail, &a.LastSyncedAt, &a.SourceCreatedAt, &a.SourceUpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan account")
	}

	a.CRMID = deref(crmID)
	a.PaymentsID = deref(paymentsID)
	a.AnalyticsID = deref(analyticsID)
	if paymentStats.Valid {
		a.PaymentStats = &model.PaymentStats{}
		if err := json.Unmarshal([]byte(paymentStats.String), a.PaymentStats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal payment stats")
		}
	}
	if subScores.Valid {
		if err := json.Unmarshal([]byte(subScores.String), &a.SubScores); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sub scores")
		}
	}
	if riskSignals.Valid {
		if err := json.Unmarshal([]byte(riskSignals.String), &a.RiskSignals); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal risk signals")
		}
	}
	if positiveSignals.Valid {
		if err := json.Unmarshal([]byte(positiveSignals.String), &a.PositiveSignals); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal positive signals")
		}
	}
	return &a, nil
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	var paymentStats any
	if a.PaymentStats != nil {
		b, err := json.Marshal(a.PaymentStats)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal payment stats")
		}
		paymentStats = string(b)
	}
	subScores, err := json.Marshal(a.SubScores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sub scores")
	}
	riskSignals, err := json.Marshal(a.RiskSignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal risk signals")
	}
	positiveSignals, err := json.Marshal(a.PositiveSignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal positive signals")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			crm_id = excluded.crm_id,
			payments_id = excluded.payments_id,
			analytics_id = excluded.analytics_id,
			name = excluded.name,
			domain = excluded.domain,
			mrr = excluded.mrr,
			plan = excluded.plan,
			lifecycle_stage = excluded.lifecycle_stage,
			churned = excluded.churned,
			payment_stats = excluded.payment_stats,
			total_events = excluded.total_events,
			events_last_30_days = excluded.events_last_30_days,
			days_since_activity = excluded.days_since_activity,
			health_category = excluded.health_category,
			health_score = excluded.health_score,
			sub_scores = excluded.sub_scores,
			risk_signals = excluded.risk_signals,
			positive_signals = excluded.positive_signals,
			owner_email = excluded.owner_email,
			last_synced_at = excluded.last_synced_at,
			source_created_at = excluded.source_created_at,
			source_updated_at = excluded.source_updated_at`,
		a.ID, nullIfEmpty(a.CRMID), nullIfEmpty(a.PaymentsID), nullIfEmpty(a.AnalyticsID),
		a.Name, a.Domain, a.MRR, a.Plan, a.LifecycleStage, a.Churned, paymentStats,
		a.TotalEvents, a.EventsLast30Days, a.DaysSinceActivity,
		string(a.HealthCategory), a.HealthScore, string(subScores), string(riskSignals), string(positiveSignals),
		a.OwnerEmail, a.LastSyncedAt, a.SourceCreatedAt, a.SourceUpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert account %s", a.ID)
}

func (s *SQLiteStore) HealthSummary(ctx context.Context) (*model.HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT health_category, COUNT(*), COALESCE(SUM(health_score), 0) FROM accounts GROUP BY health_category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: health summary")
	}
	defer rows.Close()

	summary := &model.HealthSummary{ByCategory: make(map[model.HealthCategory]int)}
	var scoreSum int64
	for rows.Next() {
		var category string
		var count int
		var sum int64
		if err := rows.Scan(&category, &count, &sum); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan health summary")
		}
		summary.ByCategory[model.HealthCategory(category)] = count
		summary.TotalAccounts += count
		scoreSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: health summary iterate")
	}
	if summary.TotalAccounts > 0 {
		summary.AverageScore = float64(scoreSum) / float64(summary.TotalAccounts)
	}
	return summary, nil
}

func (s *SQLiteStore) GetDealByCRMID(ctx context.Context, crmID string) (*model.Deal, error) {
	var d model.Deal
	var accountID *string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE crm_id = ?`, crmID,
	).Scan(
		&d.ID, &d.CRMID, &accountID, &d.Name, &d.Amount, &d.PipelineID, &d.StageID,
		&d.CreatedDate, &d.CloseDate, &d.ClosedDate, &d.OwnerEmail, &d.IsClosed, &d.IsWon,
		&d.DaysInPipeline, &d.DaysInCurrentStage, &d.StagesVisited, &d.ThreadingScore, &d.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get deal %s", crmID)
	}
	d.AccountID = deref(accountID)
	return &d, nil
}

func (s *SQLiteStore) UpsertDeal(ctx context.Context, d *model.Deal) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (`+dealColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (crm_id) DO UPDATE SET
			account_id = excluded.account_id,
			name = excluded.name,
			amount = excluded.amount,
			pipeline_id = excluded.pipeline_id,
			stage_id = excluded.stage_id,
			created_date = excluded.created_date,
			close_date = excluded.close_date,
			closed_date = excluded.closed_date,
			owner_email = excluded.owner_email,
			is_closed = excluded.is_closed,
			is_won = excluded.is_won,
			days_in_pipeline = excluded.days_in_pipeline,
			days_in_current_stage = excluded.days_in_current_stage,
			stages_visited = excluded.stages_visited,
			threading_score = excluded.threading_score,
			last_synced_at = excluded.last_synced_at`,
		d.ID, d.CRMID, nullIfEmpty(d.AccountID), d.Name, d.Amount, d.PipelineID, d.StageID,
		d.CreatedDate, d.CloseDate, d.ClosedDate, d.OwnerEmail, d.IsClosed, d.IsWon,
		d.DaysInPipeline, d.DaysInCurrentStage, d.StagesVisited, d.ThreadingScore, d.LastSyncedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert deal %s", d.CRMID)
}

func (s *SQLiteStore) UpsertDealContact(ctx context.Context, c *model.DealContact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deal_contacts (id, deal_id, email, name, title, role)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (deal_id, email) DO UPDATE SET
			name = excluded.name,
			title = excluded.title,
			role = excluded.role`,
		c.ID, c.DealID, c.Email, c.Name, c.Title, string(c.Role),
	)
	return eris.Wrapf(err, "sqlite: upsert contact %s for deal %s", c.Email, c.DealID)
}

func (s *SQLiteStore) ListDealContacts(ctx context.Context, dealID string) ([]model.DealContact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, email, name, title, role FROM deal_contacts WHERE deal_id = ? ORDER BY email`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts for deal %s", dealID)
	}
	defer rows.Close()

	var contacts []model.DealContact
	for rows.Next() {
		var c model.DealContact
		if err := rows.Scan(&c.ID, &c.DealID, &c.Email, &c.Name, &c.Title, &c.Role); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) ReplacePipelines(ctx context.Context, pipelines []model.Pipeline, stages []model.PipelineStage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace pipelines")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_stages`); err != nil {
		return eris.Wrap(err, "sqlite: clear pipeline stages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipelines`); err != nil {
		return eris.Wrap(err, "sqlite: clear pipelines")
	}
	for _, p := range pipelines {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pipelines (crm_id, label, display_order) VALUES (?, ?, ?)`,
			p.CRMID, p.Label, p.DisplayOrder,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert pipeline %s", p.CRMID)
		}
	}
	for _, st := range stages {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO pipeline_stages (crm_id, pipeline_id, label, display_order, probability, is_closed, is_won)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.CRMID, st.PipelineID, st.Label, st.DisplayOrder, st.Probability, st.IsClosed, st.IsWon,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert stage %s", st.CRMID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace pipelines")
}

func (s *SQLiteStore) LatestStageEntry(ctx context.Context, dealID string) (*model.StageEntry, error) {
	var e model.StageEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, deal_id, from_stage_id, to_stage_id, days_in_previous_stage, created_at
		 FROM deal_stage_history WHERE deal_id = ? ORDER BY created_at DESC LIMIT 1`,
		dealID,
	).Scan(&e.ID, &e.DealID, &e.FromStageID, &e.ToStageID, &e.DaysInPreviousStage, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest stage entry for deal %s", dealID)
	}
	return &e, nil
}

func (s *SQLiteStore) AppendStageEntry(ctx context.Context, e *model.StageEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deal_stage_history (id, deal_id, from_stage_id, to_stage_id, days_in_previous_stage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DealID, e.FromStageID, e.ToStageID, e.DaysInPreviousStage, e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append stage entry for deal %s", e.DealID)
}

func (s *SQLiteStore) ListStageEntries(ctx context.Context, dealID string) ([]model.StageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, deal_id, from_stage_id, to_stage_id, days_in_previous_stage, created_at
		 FROM deal_stage_history WHERE deal_id = ? ORDER BY created_at`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stage entries for deal %s", dealID)
	}
	defer rows.Close()

	var entries []model.StageEntry
	for rows.Next() {
		var e model.StageEntry
		if err := rows.Scan(&e.ID, &e.DealID, &e.FromStageID, &e.ToStageID, &e.DaysInPreviousStage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list stage entries iterate")
}

func (s *SQLiteStore) StartSyncRun(ctx context.Context, source model.SyncSource) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (source, status, started_at) VALUES (?, 'running', ?)`,
		string(source), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start sync run for %s", source)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sync run id")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, id int64, found, synced, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = 'completed', records_found = ?, records_synced = ?,
			records_failed = ?, completed_at = ? WHERE id = ?`,
		found, synced, failed, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: complete sync run %d", id)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = 'failed', error = ?, completed_at = ? WHERE id = ?`,
		errMsg, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: fail sync run %d", id)
}

func (s *SQLiteStore) LatestSyncRun(ctx context.Context, source model.SyncSource) (*model.SyncRun, error) {
	var r model.SyncRun
	var errStr *string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, records_found, records_synced, records_failed, error, started_at, completed_at
		 FROM sync_log WHERE source = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		string(source),
	).Scan(&r.ID, &r.Source, &r.Status, &r.RecordsFound, &r.RecordsSynced, &r.RecordsFailed,
		&errStr, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest sync run for %s", source)
	}
	r.Error = deref(errStr)
	return &r, nil
}
