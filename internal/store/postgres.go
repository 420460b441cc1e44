package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/zerochurn/success-sync/internal/db"
	"github.com/zerochurn/success-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  TEXT PRIMARY KEY,
	crm_id              TEXT UNIQUE,
	payments_id         TEXT UNIQUE,
	analytics_id        TEXT UNIQUE,
	name                TEXT NOT NULL DEFAULT '',
	domain              TEXT NOT NULL DEFAULT '',
	mrr                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	plan                TEXT NOT NULL DEFAULT '',
	lifecycle_stage     TEXT NOT NULL DEFAULT '',
	churned             BOOLEAN NOT NULL DEFAULT false,
	payment_stats       JSONB,
	total_events        BIGINT NOT NULL DEFAULT 0,
	events_last_30_days BIGINT NOT NULL DEFAULT 0,
	days_since_activity INTEGER NOT NULL DEFAULT -1,
	health_category     TEXT NOT NULL DEFAULT 'unknown',
	health_score        INTEGER NOT NULL DEFAULT 0,
	sub_scores          JSONB,
	risk_signals        JSONB,
	positive_signals    JSONB,
	owner_email         TEXT NOT NULL DEFAULT '',
	last_synced_at      TIMESTAMPTZ,
	source_created_at   TIMESTAMPTZ,
	source_updated_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS deals (
	id                    TEXT PRIMARY KEY,
	crm_id                TEXT NOT NULL UNIQUE,
	account_id            TEXT REFERENCES accounts(id),
	name                  TEXT NOT NULL DEFAULT '',
	amount                DOUBLE PRECISION NOT NULL DEFAULT 0,
	pipeline_id           TEXT NOT NULL DEFAULT '',
	stage_id              TEXT NOT NULL DEFAULT '',
	created_date          TIMESTAMPTZ,
	close_date            TIMESTAMPTZ,
	closed_date           TIMESTAMPTZ,
	owner_email           TEXT NOT NULL DEFAULT '',
	is_closed             BOOLEAN NOT NULL DEFAULT false,
	is_won                BOOLEAN NOT NULL DEFAULT false,
	days_in_pipeline      INTEGER NOT NULL DEFAULT 0,
	days_in_current_stage INTEGER NOT NULL DEFAULT 0,
	stages_visited        INTEGER NOT NULL DEFAULT 0,
	threading_score       INTEGER NOT NULL DEFAULT 0,
	last_synced_at        TIMESTAMPTZ
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
	probability   DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_closed     BOOLEAN NOT NULL DEFAULT false,
	is_won        BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS deal_stage_history (
	id                     TEXT PRIMARY KEY,
	deal_id                TEXT NOT NULL,
	from_stage_id          TEXT NOT NULL DEFAULT '',
	to_stage_id            TEXT NOT NULL,
	days_in_previous_stage INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
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
	id             BIGSERIAL PRIMARY KEY,
	source         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	records_found  INTEGER NOT NULL DEFAULT 0,
	records_synced INTEGER NOT NULL DEFAULT 0,
	records_failed INTEGER NOT NULL DEFAULT 0,
	error          TEXT,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_deals_account_id ON deals(account_id);
CREATE INDEX IF NOT EXISTS idx_stage_history_deal ON deal_stage_history(deal_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_stages_pipeline ON pipeline_stages(pipeline_id);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source, started_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const accountColumns = `id, crm_id, payments_id, analytics_id, name, domain, mrr, plan,
	lifecycle_stage, churned, payment_stats, total_events, events_last_30_days, days_since_activity,
	health_category, health_score, sub_scores, risk_signals, positive_signals,
	owner_email, last_synced_at, source_created_at, source_updated_at`

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list accounts")
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, eris.Wrap(rows.Err(), "postgres: list accounts iterate")
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var crmID, paymentsID, analyticsID *string
	var paymentStats, subScores, riskSignals, positiveSignals []byte

	err := row.Scan(
		&a.ID, &crmID, &paymentsID, &analyticsID, &a.Name, &a.Domain, &a.MRR, &a.Plan,
		&a.LifecycleStage, &a.Churned, &paymentStats, &a.TotalEvents, &a.EventsLast30Days, &a.DaysSinceActivity,
		&a.HealthCategory, &a.HealthScore, &subScores, &riskSignals, &positiveSignals,
		&a.OwnerEmail, &a.LastSyncedAt, &a.SourceCreatedAt, &a.SourceUpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan account")
	}

	a.CRMID = deref(crmID)
	a.PaymentsID = deref(paymentsID)
	a.AnalyticsID = deref(analyticsID)
	if paymentStats != nil {
		a.PaymentStats = &model.PaymentStats{}
		if err := json.Unmarshal(paymentStats, a.PaymentStats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal payment stats")
		}
	}
	if subScores != nil {
		if err := json.Unmarshal(subScores, &a.SubScores); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sub scores")
		}
	}
	if riskSignals != nil {
		if err := json.Unmarshal(riskSignals, &a.RiskSignals); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal risk signals")
		}
	}
	if positiveSignals != nil {
		if err := json.Unmarshal(positiveSignals, &a.PositiveSignals); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal positive signals")
		}
	}
	return &a, nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	var paymentStats []byte
	if a.PaymentStats != nil {
		var err error
		paymentStats, err = json.Marshal(a.PaymentStats)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal payment stats")
		}
	}
	subScores, err := json.Marshal(a.SubScores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sub scores")
	}
	riskSignals, err := json.Marshal(a.RiskSignals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal risk signals")
	}
	positiveSignals, err := json.Marshal(a.PositiveSignals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal positive signals")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		 ON CONFLICT (id) DO UPDATE SET
			crm_id = EXCLUDED.crm_id,
			payments_id = EXCLUDED.payments_id,
			analytics_id = EXCLUDED.analytics_id,
			name = EXCLUDED.name,
			domain = EXCLUDED.domain,
			mrr = EXCLUDED.mrr,
			plan = EXCLUDED.plan,
			lifecycle_stage = EXCLUDED.lifecycle_stage,
			churned = EXCLUDED.churned,
			payment_stats = EXCLUDED.payment_stats,
			total_events = EXCLUDED.total_events,
			events_last_30_days = EXCLUDED.events_last_30_days,
			days_since_activity = EXCLUDED.days_since_activity,
			health_category = EXCLUDED.health_category,
			health_score = EXCLUDED.health_score,
			sub_scores = EXCLUDED.sub_scores,
			risk_signals = EXCLUDED.risk_signals,
			positive_signals = EXCLUDED.positive_signals,
			owner_email = EXCLUDED.owner_email,
			last_synced_at = EXCLUDED.last_synced_at,
			source_created_at = EXCLUDED.source_created_at,
			source_updated_at = EXCLUDED.source_updated_at`,
		a.ID, nullIfEmpty(a.CRMID), nullIfEmpty(a.PaymentsID), nullIfEmpty(a.AnalyticsID),
		a.Name, a.Domain, a.MRR, a.Plan, a.LifecycleStage, a.Churned, paymentStats,
		a.TotalEvents, a.EventsLast30Days, a.DaysSinceActivity,
		string(a.HealthCategory), a.HealthScore, subScores, riskSignals, positiveSignals,
		a.OwnerEmail, a.LastSyncedAt, a.SourceCreatedAt, a.SourceUpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert account %s", a.ID)
}

func (s *PostgresStore) HealthSummary(ctx context.Context) (*model.HealthSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT health_category, COUNT(*), COALESCE(SUM(health_score), 0) FROM accounts GROUP BY health_category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: health summary")
	}
	defer rows.Close()

	summary := &model.HealthSummary{ByCategory: make(map[model.HealthCategory]int)}
	var scoreSum int64
	for rows.Next() {
		var category string
		var count int
		var sum int64
		if err := rows.Scan(&category, &count, &sum); err != nil {
			return nil, eris.Wrap(err, "postgres: scan health summary")
		}
		summary.ByCategory[model.HealthCategory(category)] = count
		summary.TotalAccounts += count
		scoreSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: health summary iterate")
	}
	if summary.TotalAccounts > 0 {
		summary.AverageScore = float64(scoreSum) / float64(summary.TotalAccounts)
	}
	return summary, nil
}

const dealColumns = `id, crm_id, account_id, name, amount, pipeline_id, stage_id,
	created_date, close_date, closed_date, owner_email, is_closed, is_won,
	days_in_pipeline, days_in_current_stage, stages_visited, threading_score, last_synced_at`

func (s *PostgresStore) GetDealByCRMID(ctx context.Context, crmID string) (*model.Deal, error) {
	var d model.Deal
	var accountID *string
	err := s.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE crm_id = $1`, crmID,
	).Scan(
		&d.ID, &d.CRMID, &accountID, &d.Name, &d.Amount, &d.PipelineID, &d.StageID,
		&d.CreatedDate, &d.CloseDate, &d.ClosedDate, &d.OwnerEmail, &d.IsClosed, &d.IsWon,
		&d.DaysInPipeline, &d.DaysInCurrentStage, &d.StagesVisited, &d.ThreadingScore, &d.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get deal %s", crmID)
	}
	d.AccountID = deref(accountID)
	return &d, nil
}

func (s *PostgresStore) UpsertDeal(ctx context.Context, d *model.Deal) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (`+dealColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (crm_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			name = EXCLUDED.name,
			amount = EXCLUDED.amount,
			pipeline_id = EXCLUDED.pipeline_id,
			stage_id = EXCLUDED.stage_id,
			created_date = EXCLUDED.created_date,
			close_date = EXCLUDED.close_date,
			closed_date = EXCLUDED.closed_date,
			owner_email = EXCLUDED.owner_email,
			is_closed = EXCLUDED.is_closed,
			is_won = EXCLUDED.is_won,
			days_in_pipeline = EXCLUDED.days_in_pipeline,
			days_in_current_stage = EXCLUDED.days_in_current_stage,
			stages_visited = EXCLUDED.stages_visited,
			threading_score = EXCLUDED.threading_score,
			last_synced_at = EXCLUDED.last_synced_at`,
		d.ID, d.CRMID, nullIfEmpty(d.AccountID), d.Name, d.Amount, d.PipelineID, d.StageID,
		d.CreatedDate, d.CloseDate, d.ClosedDate, d.OwnerEmail, d.IsClosed, d.IsWon,
		d.DaysInPipeline, d.DaysInCurrentStage, d.StagesVisited, d.ThreadingScore, d.LastSyncedAt,
	)
	return eris.Wrapf(err, "postgres: upsert deal %s", d.CRMID)
}

func (s *PostgresStore) UpsertDealContact(ctx context.Context, c *model.DealContact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deal_contacts (id, deal_id, email, name, title, role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (deal_id, email) DO UPDATE SET
			name = EXCLUDED.name,
			title = EXCLUDED.title,
			role = EXCLUDED.role`,
		c.ID, c.DealID, c.Email, c.Name, c.Title, string(c.Role),
	)
	return eris.Wrapf(err, "postgres: upsert contact %s for deal %s", c.Email, c.DealID)
}

func (s *PostgresStore) ListDealContacts(ctx context.Context, dealID string) ([]model.DealContact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, email, name, title, role FROM deal_contacts WHERE deal_id = $1 ORDER BY email`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts for deal %s", dealID)
	}
	defer rows.Close()

	var contacts []model.DealContact
	for rows.Next() {
		var c model.DealContact
		if err := rows.Scan(&c.ID, &c.DealID, &c.Email, &c.Name, &c.Title, &c.Role); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

func (s *PostgresStore) ReplacePipelines(ctx context.Context, pipelines []model.Pipeline, stages []model.PipelineStage) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pipeline_stages`); err != nil {
		return eris.Wrap(err, "postgres: clear pipeline stages")
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM pipelines`); err != nil {
		return eris.Wrap(err, "postgres: clear pipelines")
	}
	for _, p := range pipelines {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO pipelines (crm_id, label, display_order) VALUES ($1, $2, $3)`,
			p.CRMID, p.Label, p.DisplayOrder,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert pipeline %s", p.CRMID)
		}
	}
	for _, st := range stages {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO pipeline_stages (crm_id, pipeline_id, label, display_order, probability, is_closed, is_won)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			st.CRMID, st.PipelineID, st.Label, st.DisplayOrder, st.Probability, st.IsClosed, st.IsWon,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert stage %s", st.CRMID)
		}
	}
	return nil
}

func (s *PostgresStore) LatestStageEntry(ctx context.Context, dealID string) (*model.StageEntry, error) {
	var e model.StageEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, deal_id, from_stage_id, to_stage_id, days_in_previous_stage, created_at
		 FROM deal_stage_history WHERE deal_id = $1 ORDER BY created_at DESC LIMIT 1`,
		dealID,
	).Scan(&e.ID, &e.DealID, &e.FromStageID, &e.ToStageID, &e.DaysInPreviousStage, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest stage entry for deal %s", dealID)
	}
	return &e, nil
}

func (s *PostgresStore) AppendStageEntry(ctx context.Context, e *model.StageEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deal_stage_history (id, deal_id, from_stage_id, to_stage_id, days_in_previous_stage, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.DealID, e.FromStageID, e.ToStageID, e.DaysInPreviousStage, e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append stage entry for deal %s", e.DealID)
}

func (s *PostgresStore) ListStageEntries(ctx context.Context, dealID string) ([]model.StageEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, deal_id, from_stage_id, to_stage_id, days_in_previous_stage, created_at
		 FROM deal_stage_history WHERE deal_id = $1 ORDER BY created_at`,
		dealID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stage entries for deal %s", dealID)
	}
	defer rows.Close()

	var entries []model.StageEntry
	for rows.Next() {
		var e model.StageEntry
		if err := rows.Scan(&e.ID, &e.DealID, &e.FromStageID, &e.ToStageID, &e.DaysInPreviousStage, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list stage entries iterate")
}

func (s *PostgresStore) StartSyncRun(ctx context.Context, source model.SyncSource) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_log (source, status, started_at) VALUES ($1, 'running', now()) RETURNING id`,
		string(source),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start sync run for %s", source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteSyncRun(ctx context.Context, id int64, found, synced, failed int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log SET status = 'completed', records_found = $1, records_synced = $2,
			records_failed = $3, completed_at = now() WHERE id = $4`,
		found, synced, failed, id,
	)
	return eris.Wrapf(err, "postgres: complete sync run %d", id)
}

func (s *PostgresStore) FailSyncRun(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log SET status = 'failed', error = $1, completed_at = now() WHERE id = $2`,
		errMsg, id,
	)
	return eris.Wrapf(err, "postgres: fail sync run %d", id)
}

func (s *PostgresStore) LatestSyncRun(ctx context.Context, source model.SyncSource) (*model.SyncRun, error) {
	var r model.SyncRun
	var errStr *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, status, records_found, records_synced, records_failed, error, started_at, completed_at
		 FROM sync_log WHERE source = $1 ORDER BY started_at DESC LIMIT 1`,
		string(source),
	).Scan(&r.ID, &r.Source, &r.Status, &r.RecordsFound, &r.RecordsSynced, &r.RecordsFailed,
		&errStr, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest sync run for %s", source)
	}
	r.Error = deref(errStr)
	return &r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
