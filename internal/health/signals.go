// Package health computes the composite account health score from
// payment, engagement, support, and growth signals.
package health

import "github.com/zerochurn/success-sync/internal/model"

// Signals is the merged per-account input to the scorer, assembled by
// the orchestrator from the account record and fresh source data.
type Signals struct {
	// Payments
	HasPaymentData bool
	ChargeCount    int
	FailedCharges  int
	SuccessRate    float64 // fraction of charges paid, valid when ChargeCount > 0
	Disputes       int
	MaxRiskScore   int64 // highest fraud risk score observed, 0-100
	TotalVolume    float64

	// Engagement
	TotalEvents       int64
	EventsLast30Days  int64
	DaysSinceActivity int // -1 when unknown

	// Growth
	MRR            float64
	Plan           string
	LifecycleStage string

	// Explicit churn designation from the CRM.
	Churned bool
}

// Result is the scorer output persisted onto the account.
type Result struct {
	Score           int
	Category        model.HealthCategory
	SubScores       model.SubScores
	RiskSignals     []string
	PositiveSignals []string
}
