package health

import (
	"math"
	"strings"

	"github.com/zerochurn/success-sync/internal/model"
)

// Sub-score baselines. Support is a fixed placeholder until the ticket
// data integration lands.
const (
	paymentBaseline    = 100.0
	engagementBaseline = 100.0
	supportBaseline    = 100.0
	growthBaseline     = 50.0

	paymentNeutralPositive = 70.0
	paymentUnknown         = 50.0
)

// Scorer computes composite health from per-dimension rule sets.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer with the given weights.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Score evaluates all dimensions and blends them into the composite
// score and category. Categorical signals (explicit churn, critical
// payment trouble, any dispute) override the numeric category to red.
func (sc *Scorer) Score(s Signals) Result {
	var risks, positives []string

	payment, pRisks, pPos := sc.scorePayment(s)
	engagement, eRisks, ePos := fold(engagementBaseline, engagementRules, s)
	support := supportBaseline
	growth, gRisks, gPos := fold(growthBaseline, growthRules, s)

	if s.Churned {
		risks = append(risks, "Marked churned in CRM")
	}
	risks = append(risks, pRisks...)
	risks = append(risks, eRisks...)
	risks = append(risks, gRisks...)
	positives = append(positives, pPos...)
	positives = append(positives, ePos...)
	positives = append(positives, gPos...)

	w := sc.weights
	weightSum := w.Payment + w.Engagement + w.Support + w.Growth
	composite := 0.0
	if weightSum > 0 {
		composite = (payment*w.Payment + engagement*w.Engagement +
			support*w.Support + growth*w.Growth) / weightSum
	}
	score := int(math.Round(composite))

	return Result{
		Score:    score,
		Category: sc.category(score, s, len(risks)+len(positives)),
		SubScores: model.SubScores{
			Payment:    payment,
			Engagement: engagement,
			Support:    support,
			Growth:     growth,
		},
		RiskSignals:     risks,
		PositiveSignals: positives,
	}
}

// scorePayment handles the no-data cases before applying the rule set:
// revenue without payment data is neutral-positive, neither is unknown.
// A matched customer with zero charges counts as no data; the rate
// fields are only meaningful once a charge exists.
func (sc *Scorer) scorePayment(s Signals) (float64, []string, []string) {
	if !s.HasPaymentData || s.ChargeCount == 0 {
		if s.MRR > 0 {
			return paymentNeutralPositive, nil, nil
		}
		return paymentUnknown, nil, nil
	}
	return fold(paymentBaseline, paymentRules, s)
}

func (sc *Scorer) category(score int, s Signals, signalCount int) model.HealthCategory {
	if forceRed(s) {
		return model.HealthRed
	}
	switch {
	case score >= 80:
		return model.HealthGreen
	case score >= 40:
		return model.HealthYellow
	case score >= 1:
		return model.HealthRed
	case signalCount > 0:
		return model.HealthRed
	default:
		return model.HealthUnknown
	}
}

// forceRed reports whether a categorical signal overrides the numeric
// category. These are higher-confidence than the weighted blend.
func forceRed(s Signals) bool {
	if s.Churned {
		return true
	}
	if s.Disputes > 0 {
		return true
	}
	if s.HasPaymentData && s.ChargeCount > 0 && s.SuccessRate < criticalSuccessRate {
		return true
	}
	return false
}

// planHas reports whether the plan identifier contains any keyword.
func planHas(plan string, keywords ...string) bool {
	p := strings.ToLower(plan)
	for _, kw := range keywords {
		if strings.Contains(p, kw) {
			return true
		}
	}
	return false
}
