package risk

import (
	"github.com/sells-group/shield/internal/fault"
)

// Score bounds for policy risk.
const (
	MinRiskScore = 10
	MaxRiskScore = 100
	baseRisk     = 50
)

// RiskInput carries the factors of a policy risk score. Reputation,
// Complexity and SectorRisk are on a 0-100 scale.
type RiskInput struct {
	Coverage      uint64 `json:"coverage"`
	PeriodDays    uint64 `json:"period_days"`
	Reputation    uint8  `json:"reputation"`
	Complexity    uint8  `json:"complexity"`
	SectorRisk    uint8  `json:"sector_risk"`
	ClaimsHistory uint8  `json:"claims_history"`
}

// RiskScore computes a policy risk score in [10, 100].
func RiskScore(in RiskInput) (uint8, error) {
	if in.Reputation > 100 || in.Complexity > 100 || in.SectorRisk > 100 {
		return 0, fault.ErrInvalidRiskParameter.With("score inputs must be within 0-100")
	}

	score := uint64(baseRisk)
	switch CoverageTier(in.Coverage) {
	case 3:
		score += 15
	case 2:
		score += 10
	case 1:
		score += 5
	}
	switch {
	case in.PeriodDays > 180:
		score += 10
	case in.PeriodDays > 90:
		score += 5
	}

	rep := uint64(in.Reputation) / 5
	if rep > score {
		score = 0
	} else {
		score -= rep
	}
	score += uint64(in.Complexity) / 5
	score += uint64(in.SectorRisk) / 5
	score += min(uint64(in.ClaimsHistory)*5, 20)

	return uint8(min(max(score, MinRiskScore), MaxRiskScore)), nil
}

// ComplexityFromWeight maps a x10 risk weight onto the 0-100 score scale.
// Weight 10 (neutral) maps to 50.
func ComplexityFromWeight(weight uint64) uint8 {
	v := weight * 10
	if v <= 50 {
		return 0
	}
	return uint8(min(v-50, 100))
}

// ClaimRiskInput carries the factors of a claim risk score.
type ClaimRiskInput struct {
	PolicyRisk     uint8  `json:"policy_risk"`
	Amount         uint64 `json:"amount"`
	Coverage       uint64 `json:"coverage"`
	PolicySeconds  int64  `json:"policy_seconds"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	PriorClaims    uint64 `json:"prior_claims"`
	// AverageClaim is the product's mean paid claim; HasAverage is false when
	// nothing has been paid yet.
	AverageClaim uint64 `json:"average_claim"`
	HasAverage   bool   `json:"has_average"`
}

// ClaimRiskScore weighs policy risk (30%), amount ratio (25%), policy age
// (20%), prior claims (15%) and amount anomaly (10%). Higher is riskier.
func ClaimRiskScore(in ClaimRiskInput) (uint8, error) {
	if in.PolicyRisk > 100 {
		return 0, fault.ErrInvalidRiskParameter.With("policy risk %d exceeds 100", in.PolicyRisk)
	}
	amountRatio := amountRatio(in.Amount, in.Coverage)
	age := ageFactor(in.PolicySeconds, in.ElapsedSeconds)
	claims := min(in.PriorClaims*20, 100)

	anomaly := uint64(50)
	if in.HasAverage && in.AverageClaim > 0 {
		anomaly = 0
		if in.Amount > in.AverageClaim {
			anomaly = min((in.Amount-in.AverageClaim)*100/in.AverageClaim, 100)
		}
	}

	score := (uint64(in.PolicyRisk)*30 + amountRatio*25 + age*20 + claims*15 + anomaly*10) / 100
	return uint8(min(score, 100)), nil
}

func amountRatio(amount, coverage uint64) uint64 {
	if coverage == 0 {
		return 100
	}
	if amount >= coverage {
		return 100
	}
	return amount * 100 / coverage
}

// ageFactor is high for young policies and falls to 0 at the end of term.
func ageFactor(duration, elapsed int64) uint64 {
	if duration <= 0 {
		return 100
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= duration {
		return 0
	}
	pct := uint64(elapsed) * 100 / uint64(duration)
	return 100 - pct
}
