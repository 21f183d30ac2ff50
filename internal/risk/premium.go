// Package risk implements the pricing and scoring functions of the engine.
//
// All functions are pure: identical inputs always produce identical output,
// and nothing here reads the clock or mutates its arguments.
package risk

import (
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
)

const daysPerYear = 365

// CalculatePremium prices coverage for periodDays.
//
//	annual_rate    = base_rate * risk_factor * multiplier / 10000
//	annual_premium = coverage * annual_rate / 10000
//	period_premium = annual_premium * period_days / 365
//
// Each step truncates. riskFactor must be at most 100.
func CalculatePremium(coverage, periodDays, baseRate, riskFactor, multiplier uint64) (uint64, error) {
	if riskFactor > 100 {
		return 0, fault.ErrInvalidRiskParameter.With("risk factor %d exceeds 100", riskFactor)
	}
	annualRate, err := fixedpoint.From(baseRate).Mul(riskFactor).Mul(multiplier).Div(fixedpoint.BasisPoints).Uint64()
	if err != nil {
		return 0, err
	}
	annual, err := fixedpoint.MulDiv(coverage, annualRate, fixedpoint.BasisPoints)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDiv(annual, periodDays, daysPerYear)
}

// PremiumInput carries every factor of a full premium quote.
type PremiumInput struct {
	Coverage       uint64 `json:"coverage"`
	PeriodDays     uint64 `json:"period_days"`
	BaseRate       uint64 `json:"base_rate"`
	RiskAdjustment uint64 `json:"risk_adjustment"`
	Multiplier     uint64 `json:"multiplier"`

	// JobWeight and IndustryWeight are x10 (10 is neutral).
	JobWeight      uint64 `json:"job_weight"`
	IndustryWeight uint64 `json:"industry_weight"`

	Reputation    uint8 `json:"reputation"`
	ClaimsHistory uint8 `json:"claims_history"`

	CurveExponent    uint64 `json:"curve_exponent"`
	ReputationWeight uint64 `json:"reputation_weight"`
	ClaimsWeight     uint64 `json:"claims_weight"`

	// BayesianBps is the calibrator adjustment; 0 is treated as neutral.
	BayesianBps uint64 `json:"bayesian_bps"`
}

// Components is the breakdown of a quoted premium.
type Components struct {
	Base                  uint64 `json:"base"`
	RiskWeightPct         uint64 `json:"risk_weight_pct"`
	ReputationDiscountPct uint64 `json:"reputation_discount_pct"`
	ClaimsSurchargePct    uint64 `json:"claims_surcharge_pct"`
	CurveSurchargePct     uint64 `json:"curve_surcharge_pct"`
	BayesianBps           uint64 `json:"bayesian_bps"`
}

// Premium is a quoted premium and its components.
type Premium struct {
	Amount     uint64     `json:"amount"`
	Components Components `json:"components"`
}

// Caps on the percentage modifiers.
const (
	maxReputationDiscountPct = 30
	maxClaimsSurchargePct    = 200
)

// Quote prices a policy from the base formula and the risk modifiers.
// With neutral modifiers (weights 10, no reputation or claims weight, no
// curve, neutral Bayesian factor) the result equals CalculatePremium.
func Quote(in PremiumInput) (Premium, error) {
	if in.Reputation > 100 {
		return Premium{}, fault.ErrInvalidRiskParameter.With("reputation %d exceeds 100", in.Reputation)
	}
	base, err := CalculatePremium(in.Coverage, in.PeriodDays, in.BaseRate, in.RiskAdjustment, in.Multiplier)
	if err != nil {
		return Premium{}, err
	}

	c := Components{
		Base:          base,
		RiskWeightPct: in.JobWeight * in.IndustryWeight,
		BayesianBps:   in.BayesianBps,
	}
	if c.BayesianBps == 0 {
		c.BayesianBps = fixedpoint.BasisPoints
	}
	c.ReputationDiscountPct = min(uint64(in.Reputation)*in.ReputationWeight/10, maxReputationDiscountPct)
	c.ClaimsSurchargePct = min(uint64(in.ClaimsHistory)*in.ClaimsWeight, maxClaimsSurchargePct)
	c.CurveSurchargePct = in.CurveExponent * uint64(CoverageTier(in.Coverage))

	amount, err := fixedpoint.From(base).
		Mul(c.RiskWeightPct).
		Mul(100 - c.ReputationDiscountPct).
		Mul(100 + c.ClaimsSurchargePct).
		Mul(100 + c.CurveSurchargePct).
		Mul(c.BayesianBps).
		Div(100 * 100 * 100 * 100 * fixedpoint.BasisPoints).
		Uint64()
	if err != nil {
		return Premium{}, err
	}
	return Premium{Amount: amount, Components: c}, nil
}

// CoverageTier buckets coverage by magnitude: 0 up to 100K, 1 above 100K,
// 2 above 1M, 3 above 10M.
func CoverageTier(coverage uint64) int {
	switch {
	case coverage > 10_000_000:
		return 3
	case coverage > 1_000_000:
		return 2
	case coverage > 100_000:
		return 1
	}
	return 0
}

// RenewalPremium applies the 5% loyalty discount to a freshly quoted premium.
func RenewalPremium(quoted uint64) (uint64, error) {
	return fixedpoint.Percent(quoted, 95)
}
