package health

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Thresholds used by the rule sets. Values mirror long-standing tuning;
// change with care, scores feed renewal playbooks.
const (
	criticalSuccessRate = 0.5
	lowSuccessRate      = 0.8
	highSuccessRate     = 0.95
	highVolumeUSD       = 10_000
	elevatedRiskScore   = 75

	staleDays      = 30
	veryStaleDays  = 60
	minTrendRate   = 5.0
	trendStopFloor = 20
)

// rule is one independently evaluable scoring adjustment. delta is added
// to the running sub-score when when() holds; a non-empty signal is
// recorded as a risk (delta < 0 or zero) or positive (delta > 0) signal.
type rule struct {
	when   func(Signals) bool
	delta  func(Signals) float64
	signal func(Signals) string
}

func fixed(d float64) func(Signals) float64 {
	return func(Signals) float64 { return d }
}

func text(s string) func(Signals) string {
	return func(Signals) string { return s }
}

func noSignal(Signals) string { return "" }

var usd = message.NewPrinter(language.English)

// paymentRules adjust the payment sub-score from its baseline of 100.
// They only apply when at least one charge exists; the no-data and
// zero-charge cases are handled by scorePayment.
var paymentRules = []rule{
	{
		when:  func(s Signals) bool { return s.SuccessRate < criticalSuccessRate },
		delta: fixed(-40),
		signal: func(s Signals) string {
			return fmt.Sprintf("Critical payment success rate (%.0f%%)", s.SuccessRate*100)
		},
	},
	{
		when:  func(s Signals) bool { return s.SuccessRate >= criticalSuccessRate && s.SuccessRate < lowSuccessRate },
		delta: fixed(-20),
		signal: func(s Signals) string {
			return fmt.Sprintf("Low payment success rate (%.0f%%)", s.SuccessRate*100)
		},
	},
	{
		when: func(s Signals) bool { return s.FailedCharges > 0 },
		delta: func(s Signals) float64 {
			return -math.Min(float64(s.FailedCharges)*5, 20)
		},
		signal: func(s Signals) string {
			return fmt.Sprintf("%d failed charges", s.FailedCharges)
		},
	},
	{
		when: func(s Signals) bool { return s.Disputes > 0 },
		delta: func(s Signals) float64 {
			return -float64(s.Disputes) * 15
		},
		signal: func(s Signals) string {
			return fmt.Sprintf("%d payment disputes", s.Disputes)
		},
	},
	{
		when:   func(s Signals) bool { return s.MaxRiskScore >= elevatedRiskScore },
		delta:  fixed(-15),
		signal: text("Elevated fraud risk score"),
	},
	{
		when:   func(s Signals) bool { return s.SuccessRate >= highSuccessRate && s.ChargeCount >= 10 },
		delta:  fixed(10),
		signal: text("Excellent payment history"),
	},
	{
		when:  func(s Signals) bool { return s.TotalVolume >= highVolumeUSD },
		delta: fixed(5),
		signal: func(s Signals) string {
			return usd.Sprintf("High charge volume ($%.0f)", s.TotalVolume)
		},
	},
}

// engagementRules adjust the engagement sub-score from its baseline of 100.
var engagementRules = []rule{
	{
		when:   func(s Signals) bool { return s.DaysSinceActivity >= veryStaleDays },
		delta:  fixed(-40),
		signal: text("No activity in 60+ days"),
	},
	{
		when:   func(s Signals) bool { return s.DaysSinceActivity >= staleDays && s.DaysSinceActivity < veryStaleDays },
		delta:  fixed(-20),
		signal: text("No activity in 30+ days"),
	},
	{
		when:   func(s Signals) bool { return s.TotalEvents == 0 },
		delta:  fixed(-40),
		signal: text("No usage recorded"),
	},
	{
		when:   func(s Signals) bool { return s.TotalEvents > 0 && s.TotalEvents < 5 },
		delta:  fixed(-15),
		signal: text("Very low lifetime usage"),
	},
	{
		when:   func(s Signals) bool { return trendActive(s) && s.EventsLast30Days == 0 && s.TotalEvents > trendStopFloor },
		delta:  fixed(-30),
		signal: text("Usage stopped"),
	},
	{
		when:   func(s Signals) bool { return trendActive(s) && s.EventsLast30Days > 0 && trendDrop(s) > 0.7 },
		delta:  fixed(-20),
		signal: text("Usage down more than 70% from historical rate"),
	},
	{
		when: func(s Signals) bool {
			return trendActive(s) && s.EventsLast30Days > 0 && trendDrop(s) > 0.5 && trendDrop(s) <= 0.7
		},
		delta:  fixed(-10),
		signal: text("Usage down more than 50% from historical rate"),
	},
	{
		when: func(s Signals) bool {
			return trendActive(s) && float64(s.EventsLast30Days) >= historicalRate(s)*1.2
		},
		delta:  fixed(10),
		signal: text("Usage trending up"),
	},
}

// growthRules adjust the growth sub-score from its neutral baseline of 50.
var growthRules = []rule{
	{
		when:  func(s Signals) bool { return s.MRR >= 5000 },
		delta: fixed(20),
		signal: func(s Signals) string {
			return usd.Sprintf("Strong recurring revenue ($%.0f MRR)", s.MRR)
		},
	},
	{
		when:   func(s Signals) bool { return s.MRR >= 1000 && s.MRR < 5000 },
		delta:  fixed(10),
		signal: noSignal,
	},
	{
		when:   func(s Signals) bool { return s.MRR > 0 && s.MRR < 1000 },
		delta:  fixed(5),
		signal: noSignal,
	},
	{
		when:   func(s Signals) bool { return planHas(s.Plan, "enterprise") },
		delta:  fixed(15),
		signal: text("Enterprise plan"),
	},
	{
		when:   func(s Signals) bool { return !planHas(s.Plan, "enterprise") && planHas(s.Plan, "pro") },
		delta:  fixed(10),
		signal: noSignal,
	},
	{
		when:   func(s Signals) bool { return planHas(s.Plan, "free", "trial") },
		delta:  fixed(-10),
		signal: noSignal,
	},
	{
		when:   func(s Signals) bool { return lifecycleActive(s.LifecycleStage) },
		delta:  fixed(10),
		signal: noSignal,
	},
	{
		when:   func(s Signals) bool { return planHas(s.Plan, "free") && s.TotalEvents == 0 },
		delta:  fixed(0),
		signal: text("Free plan with no usage"),
	},
}

// historicalRate estimates the account's historical monthly activity
// from lifetime usage: active months are approximated as
// min(12, ceil(totalEvents/10)), floored at 1. A rough proxy, kept
// deliberately conservative for sparse accounts.
func historicalRate(s Signals) float64 {
	months := math.Ceil(float64(s.TotalEvents) / 10)
	if months > 12 {
		months = 12
	}
	if months < 1 {
		months = 1
	}
	return float64(s.TotalEvents) / months
}

// trendActive gates the trend heuristic: it only fires for accounts
// whose historical rate clears a minimum, to avoid false positives from
// naturally sparse usage.
func trendActive(s Signals) bool {
	return historicalRate(s) > minTrendRate
}

// trendDrop is the fractional decline of the last-30-day count against
// the historical monthly rate.
func trendDrop(s Signals) float64 {
	rate := historicalRate(s)
	if rate <= 0 {
		return 0
	}
	return 1 - float64(s.EventsLast30Days)/rate
}

// fold applies rules to a baseline, collecting signals in rule order.
// The running total is clamped to [0,100] at the end.
func fold(baseline float64, rules []rule, s Signals) (float64, []string, []string) {
	score := baseline
	var risks, positives []string
	for _, r := range rules {
		if !r.when(s) {
			continue
		}
		d := r.delta(s)
		score += d
		if sig := r.signal(s); sig != "" {
			if d > 0 {
				positives = append(positives, sig)
			} else {
				risks = append(risks, sig)
			}
		}
	}
	return clamp(score), risks, positives
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func lifecycleActive(stage string) bool {
	switch stage {
	case "customer", "active", "evangelist":
		return true
	default:
		return false
	}
}
