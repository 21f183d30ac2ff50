package risk

import (
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
)

// SimulationInput describes a book of policies for a solvency scenario.
type SimulationInput struct {
	PolicyCount      uint64 `json:"policy_count" yaml:"policy_count"`
	AverageSeverity  uint64 `json:"average_severity" yaml:"average_severity"`
	ClaimFrequency   uint64 `json:"claim_frequency" yaml:"claim_frequency"`
	MarketVolatility uint64 `json:"market_volatility" yaml:"market_volatility"`
	RiskBuffer       uint64 `json:"risk_buffer" yaml:"risk_buffer"`
	TotalPremiums    uint64 `json:"total_premiums" yaml:"total_premiums"`
	AvailableCapital uint64 `json:"available_capital" yaml:"available_capital"`
}

// SimulationResult is the outcome of Simulate.
type SimulationResult struct {
	MinCapital         uint64 `json:"min_capital"`
	ExpectedLossRatio  uint64 `json:"expected_loss_ratio"`
	CapitalAdequacy    uint64 `json:"capital_adequacy"`
	TailRisk95         uint64 `json:"tail_risk_95"`
	TailRisk99         uint64 `json:"tail_risk_99"`
	PremiumAdjustment  int64  `json:"premium_adjustment"`
	RecommendedCapital uint64 `json:"recommended_capital"`
	CapitalShortfall   uint64 `json:"capital_shortfall"`
	Adequate           bool   `json:"adequate"`
}

// MinCapitalRequirement is
//
//	policies * severity * frequency * (100+volatility) * (100+buffer) / 10000
//
// with a single truncation. volatility and buffer are percentages up to 100.
func MinCapitalRequirement(policies, severity, frequency, volatility, buffer uint64) (uint64, error) {
	if volatility > 100 || buffer > 100 {
		return 0, fault.ErrInvalidRiskParameter.With("volatility and buffer must be at most 100")
	}
	return fixedpoint.From(policies).
		Mul(severity).
		Mul(frequency).
		Mul(100 + volatility).
		Mul(100 + buffer).
		Div(100 * 100).
		Uint64()
}

// PremiumAdjustment returns a premium change in percent, within [-20, +30],
// given capital adequacy, expected loss ratio and market volatility.
func PremiumAdjustment(adequacy, lossRatio, volatility uint64) int64 {
	var adj int64
	switch {
	case adequacy < 60:
		adj += 25
	case adequacy < 80:
		adj += 15
	case adequacy < 100:
		adj += 5
	case adequacy > 200:
		adj -= 10
	case adequacy > 150:
		adj -= 5
	}
	switch {
	case lossRatio > 90:
		adj += 20
	case lossRatio > 80:
		adj += 10
	case lossRatio > 70:
		adj += 5
	case lossRatio < 30:
		adj -= 10
	case lossRatio < 40:
		adj -= 5
	}
	switch {
	case volatility > 80:
		adj += 15
	case volatility > 70:
		adj += 10
	case volatility > 60:
		adj += 5
	}
	return min(max(adj, -20), 30)
}

// Simulate runs the solvency scenario described by in.
func Simulate(in SimulationInput) (SimulationResult, error) {
	minCap, err := MinCapitalRequirement(in.PolicyCount, in.AverageSeverity, in.ClaimFrequency, in.MarketVolatility, in.RiskBuffer)
	if err != nil {
		return SimulationResult{}, err
	}
	res := SimulationResult{MinCapital: minCap, ExpectedLossRatio: 50}

	if in.TotalPremiums > 0 && in.PolicyCount > 0 {
		avgPremium := in.TotalPremiums / in.PolicyCount
		if avgPremium > 0 {
			res.ExpectedLossRatio, err = fixedpoint.From(in.ClaimFrequency).
				Mul(in.AverageSeverity).
				Mul(100).
				Div(avgPremium).
				Uint64()
			if err != nil {
				return SimulationResult{}, err
			}
		}
	}

	res.CapitalAdequacy, err = fixedpoint.Ratio(in.AvailableCapital, minCap, 100)
	if err != nil {
		return SimulationResult{}, err
	}
	if res.TailRisk95, err = fixedpoint.Percent(minCap, 120); err != nil {
		return SimulationResult{}, err
	}
	if res.TailRisk99, err = fixedpoint.Percent(minCap, 150); err != nil {
		return SimulationResult{}, err
	}

	res.PremiumAdjustment = PremiumAdjustment(res.CapitalAdequacy, res.ExpectedLossRatio, in.MarketVolatility)
	res.RecommendedCapital = res.TailRisk99
	res.CapitalShortfall = fixedpoint.SaturatingSub(res.RecommendedCapital, in.AvailableCapital)
	res.Adequate = res.CapitalAdequacy >= 100
	return res, nil
}
