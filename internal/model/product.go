package model

// Product is a template for a class of policies.
type Product struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Description       string      `json:"description"`
	Type              ProductType `json:"type"`
	RiskFactor        uint64      `json:"risk_factor"`
	PremiumMultiplier uint64      `json:"premium_multiplier"`
	BaseRate          uint64      `json:"base_rate"`
	MinCoverage       uint64      `json:"min_coverage"`
	MaxCoverage       uint64      `json:"max_coverage"`
	MinPeriodDays     uint64      `json:"min_period_days"`
	MaxPeriodDays     uint64      `json:"max_period_days"`
	Active            bool        `json:"active"`

	PoliciesIssued  uint64 `json:"policies_issued"`
	ActivePolicies  uint64 `json:"active_policies"`
	TotalCoverage   uint64 `json:"total_coverage"`
	TotalPremiums   uint64 `json:"total_premiums"`
	ClaimsPaid      uint64 `json:"claims_paid"`
	PaidClaimsCount uint64 `json:"paid_claims_count"`
	LossRatio       uint64 `json:"loss_ratio"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// AverageClaim returns the mean paid claim amount, or false when none were paid.
func (p *Product) AverageClaim() (uint64, bool) {
	if p.PaidClaimsCount == 0 {
		return 0, false
	}
	return p.ClaimsPaid / p.PaidClaimsCount, true
}

// ProductInput carries the fields of a product create request.
type ProductInput struct {
	Name              string      `json:"name" yaml:"name"`
	Description       string      `json:"description" yaml:"description"`
	Type              ProductType `json:"type" yaml:"type"`
	RiskFactor        uint64      `json:"risk_factor" yaml:"risk_factor"`
	PremiumMultiplier uint64      `json:"premium_multiplier" yaml:"premium_multiplier"`
	BaseRate          uint64      `json:"base_rate" yaml:"base_rate"`
	MinCoverage       uint64      `json:"min_coverage" yaml:"min_coverage"`
	MaxCoverage       uint64      `json:"max_coverage" yaml:"max_coverage"`
	MinPeriodDays     uint64      `json:"min_period_days" yaml:"min_period_days"`
	MaxPeriodDays     uint64      `json:"max_period_days" yaml:"max_period_days"`
}

// ProductUpdate carries optional product changes. Nil fields are untouched.
type ProductUpdate struct {
	Name              *string `json:"name,omitempty"`
	Description       *string `json:"description,omitempty"`
	RiskFactor        *uint64 `json:"risk_factor,omitempty"`
	PremiumMultiplier *uint64 `json:"premium_multiplier,omitempty"`
	BaseRate          *uint64 `json:"base_rate,omitempty"`
	MinCoverage       *uint64 `json:"min_coverage,omitempty"`
	MaxCoverage       *uint64 `json:"max_coverage,omitempty"`
	MinPeriodDays     *uint64 `json:"min_period_days,omitempty"`
	MaxPeriodDays     *uint64 `json:"max_period_days,omitempty"`
}
