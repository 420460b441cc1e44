// Package model defines the canonical records shared by the sync subsystem.
package model

import "time"

// HealthCategory is the coarse health classification of an account.
type HealthCategory string

const (
	HealthGreen   HealthCategory = "green"
	HealthYellow  HealthCategory = "yellow"
	HealthRed     HealthCategory = "red"
	HealthUnknown HealthCategory = "unknown"
)

// SubScores holds the per-dimension health sub-scores, each in [0,100].
type SubScores struct {
	Payment    float64 `json:"payment"`
	Engagement float64 `json:"engagement"`
	Support    float64 `json:"support"`
	Growth     float64 `json:"growth"`
}

// PaymentStats are the charge aggregates captured by the last payments
// sync. They persist on the account so health recomputes triggered by
// other sources keep the payment dimension stable.
type PaymentStats struct {
	ChargeCount   int     `json:"charge_count"`
	FailedCharges int     `json:"failed_charges"`
	SuccessRate   float64 `json:"success_rate"`
	Disputes      int     `json:"disputes"`
	MaxRiskScore  int64   `json:"max_risk_score"`
	TotalVolume   float64 `json:"total_volume"`
}

// Account is the canonical customer record, merged from the CRM, the
// payments processor, and the product-analytics source. External IDs are
// filled in as matches are found; any of them may be empty.
type Account struct {
	ID          string `json:"id"`
	CRMID       string `json:"crm_id,omitempty"`
	PaymentsID  string `json:"payments_id,omitempty"`
	AnalyticsID string `json:"analytics_id,omitempty"`

	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`

	MRR            float64 `json:"mrr"`
	Plan           string  `json:"plan,omitempty"`
	LifecycleStage string  `json:"lifecycle_stage,omitempty"`
	Churned        bool    `json:"churned"`

	PaymentStats *PaymentStats `json:"payment_stats,omitempty"`

	TotalEvents       int64 `json:"total_events"`
	EventsLast30Days  int64 `json:"events_last_30_days"`
	DaysSinceActivity int   `json:"days_since_activity"`

	HealthCategory  HealthCategory `json:"health_category"`
	HealthScore     int            `json:"health_score"`
	SubScores       SubScores      `json:"sub_scores"`
	RiskSignals     []string       `json:"risk_signals,omitempty"`
	PositiveSignals []string       `json:"positive_signals,omitempty"`

	OwnerEmail string `json:"owner_email,omitempty"`

	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	SourceCreatedAt *time.Time `json:"source_created_at,omitempty"`
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`
}
