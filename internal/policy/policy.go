// Package policy implements the policy lifecycle: pricing, purchase,
// renewal, cancellation and expiry.
//
// Functions receive the records of one operation and mutate them in place.
// Every check runs before the first mutation.
package policy

import (
	"github.com/sells-group/shield/internal/calibrator"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/risk"
)

// Pricing is a quoted premium together with the policy risk score.
type Pricing struct {
	Premium   risk.Premium `json:"premium"`
	RiskScore uint8        `json:"risk_score"`
}

// Terms are the pricing inputs shared by purchase, renewal and quotes.
type Terms struct {
	Coverage      uint64
	PeriodDays    uint64
	JobType       model.JobType
	Industry      model.Industry
	Reputation    uint8
	ClaimsHistory uint8
}

// CheckBounds validates coverage and period against the product and program.
func CheckBounds(p *model.ProgramParams, product *model.Product, coverage, periodDays uint64) error {
	if coverage < product.MinCoverage || coverage > product.MaxCoverage ||
		coverage < p.MinCoverage || coverage > p.MaxCoverage {
		return fault.ErrInvalidCoverageAmount.With("coverage %d outside [%d, %d]",
			coverage, max(product.MinCoverage, p.MinCoverage), min(product.MaxCoverage, p.MaxCoverage))
	}
	if periodDays < product.MinPeriodDays || periodDays > product.MaxPeriodDays ||
		periodDays < p.MinPeriodDays || periodDays > p.MaxPeriodDays {
		return fault.ErrInvalidCoveragePeriod.With("period %d days outside [%d, %d]",
			periodDays, max(product.MinPeriodDays, p.MinPeriodDays), min(product.MaxPeriodDays, p.MaxPeriodDays))
	}
	return nil
}

// Price computes the risk score and premium for terms under product.
func Price(ag *model.Aggregates, product *model.Product, t Terms) (Pricing, error) {
	if !t.JobType.Valid() || !t.Industry.Valid() {
		return Pricing{}, fault.ErrInvalidEnum.With("unknown job type %q or industry %q", t.JobType, t.Industry)
	}
	if err := CheckBounds(&ag.Program.Params, product, t.Coverage, t.PeriodDays); err != nil {
		return Pricing{}, err
	}

	jobW := ag.Program.JobWeight(t.JobType)
	indW := ag.Program.IndustryWeight(t.Industry)

	score, err := risk.RiskScore(risk.RiskInput{
		Coverage:      t.Coverage,
		PeriodDays:    t.PeriodDays,
		Reputation:    t.Reputation,
		Complexity:    risk.ComplexityFromWeight(jobW),
		SectorRisk:    risk.ComplexityFromWeight(indW),
		ClaimsHistory: t.ClaimsHistory,
	})
	if err != nil {
		return Pricing{}, err
	}

	baseRate := product.BaseRate
	if baseRate == 0 {
		baseRate = ag.Program.Params.BasePremiumRate
	}
	bps := uint64(calibrator.Neutral)
	if ag.Calibrator != nil {
		bps = calibrator.Adjustment(ag.Calibrator, t.JobType, t.Industry, t.ClaimsHistory)
	}
	premium, err := risk.Quote(risk.PremiumInput{
		Coverage:         t.Coverage,
		PeriodDays:       t.PeriodDays,
		BaseRate:         baseRate,
		RiskAdjustment:   product.RiskFactor,
		Multiplier:       product.PremiumMultiplier,
		JobWeight:        jobW,
		IndustryWeight:   indW,
		Reputation:       t.Reputation,
		ClaimsHistory:    t.ClaimsHistory,
		CurveExponent:    ag.Program.Params.RiskCurveExponent,
		ReputationWeight: ag.Program.Params.ReputationImpactWeight,
		ClaimsWeight:     ag.Program.Params.ClaimsHistoryImpactWeight,
		BayesianBps:      bps,
	})
	if err != nil {
		return Pricing{}, err
	}
	return Pricing{Premium: premium, RiskScore: score}, nil
}

func days(n uint64) int64 {
	return int64(n) * model.SecondsPerDay
}

// Purchase prices and issues a new policy. The caller transfers
// policy.Premium from the owner to the vault.
func Purchase(ag *model.Aggregates, product *model.Product, id, owner string, req model.PurchaseRequest, reputation uint8, now int64) (*model.Policy, error) {
	if ag.Program.Paused {
		return nil, fault.ErrProgramPaused
	}
	if !product.Active {
		return nil, fault.ErrProductNotActive
	}
	if len(req.Details) > model.MaxPolicyDetailsLength {
		return nil, fault.ErrInvalidPolicyDetails.With("details exceed %d characters", model.MaxPolicyDetailsLength)
	}
	var claimsHistory uint8
	if req.ClaimsHistory != nil {
		claimsHistory = *req.ClaimsHistory
	}

	pricing, err := Price(ag, product, Terms{
		Coverage:      req.Coverage,
		PeriodDays:    req.PeriodDays,
		JobType:       req.JobType,
		Industry:      req.Industry,
		Reputation:    reputation,
		ClaimsHistory: claimsHistory,
	})
	if err != nil {
		return nil, err
	}
	premium := pricing.Premium.Amount

	// Overflow checks on every aggregate before any of them change.
	if _, err := fixedpoint.Add(product.TotalCoverage, req.Coverage); err != nil {
		return nil, err
	}
	if _, err := fixedpoint.Add(ag.Program.TotalCoverage, req.Coverage); err != nil {
		return nil, err
	}
	if _, err := fixedpoint.Add(ag.Program.TotalPremiums, premium); err != nil {
		return nil, err
	}
	pool := *ag.Pool
	if err := ledger.RecordPolicyIssuance(&pool, req.Coverage, premium); err != nil {
		return nil, err
	}

	end := now + days(req.PeriodDays)
	pol := &model.Policy{
		ID:             id,
		Owner:          owner,
		ProductID:      product.ID,
		Coverage:       req.Coverage,
		Premium:        premium,
		PeriodDays:     req.PeriodDays,
		StartDate:      now,
		EndDate:        end,
		ClaimPeriodEnd: end + days(ag.Program.Params.ClaimPeriodDays),
		Status:         model.PolicyActive,
		JobType:        req.JobType,
		Industry:       req.Industry,
		Reputation:     reputation,
		ClaimsHistory:  claimsHistory,
		RiskScore:      pricing.RiskScore,
		Details:        req.Details,
	}

	*ag.Pool = pool
	product.PoliciesIssued++
	product.ActivePolicies++
	product.TotalCoverage += req.Coverage
	product.TotalPremiums += premium
	product.UpdatedAt = now

	ag.Program.TotalPolicies++
	ag.Program.ActivePolicies++
	ag.Program.TotalCoverage += req.Coverage
	ag.Program.TotalPremiums += premium
	ag.Program.TotalLiability = ag.Pool.TotalLiability
	ag.Program.PremiumToClaimsRatio = ag.Pool.PremiumToClaimsRatio
	ag.Program.LastUpdate = now

	if ag.Calibrator != nil {
		calibrator.Update(ag.Calibrator, req.JobType, req.Industry, claimsHistory, false)
	}
	return pol, nil
}

// Renew extends pol by periodDays at the loyalty-discounted premium and
// returns the premium to collect. An expired policy restarts from now and
// its coverage returns to the pool's liability.
func Renew(ag *model.Aggregates, product *model.Product, pol *model.Policy, caller string, periodDays uint64, reputation uint8, now int64) (uint64, error) {
	if ag.Program.Paused {
		return 0, fault.ErrProgramPaused
	}
	if caller != pol.Owner {
		return 0, fault.ErrUnauthorized.With("only the policy owner may renew")
	}
	switch pol.Status {
	case model.PolicyActive, model.PolicyExpired, model.PolicyGracePeriod:
	default:
		return 0, fault.ErrPolicyNotRenewable.With("policy is %s", pol.Status)
	}
	if !product.Active {
		return 0, fault.ErrProductNotActive
	}

	pricing, err := Price(ag, product, Terms{
		Coverage:      pol.Coverage,
		PeriodDays:    periodDays,
		JobType:       pol.JobType,
		Industry:      pol.Industry,
		Reputation:    reputation,
		ClaimsHistory: pol.ClaimsHistory,
	})
	if err != nil {
		return 0, err
	}
	premium, err := risk.RenewalPremium(pricing.Premium.Amount)
	if err != nil {
		return 0, err
	}

	lapsed := pol.Status == model.PolicyExpired
	pool := *ag.Pool
	if lapsed {
		if err := ledger.RestoreCoverage(&pool, pol.Coverage); err != nil {
			return 0, err
		}
	}
	if err := ledger.RecordPremium(&pool, premium); err != nil {
		return 0, err
	}
	if _, err := fixedpoint.Add(ag.Program.TotalPremiums, premium); err != nil {
		return 0, err
	}

	start := pol.EndDate
	if lapsed {
		start = now
	}
	end := start + days(periodDays)

	*ag.Pool = pool
	if lapsed {
		ag.Program.ActivePolicies++
		product.ActivePolicies++
	}
	product.TotalPremiums += premium
	product.UpdatedAt = now
	ag.Program.TotalPremiums += premium
	ag.Program.TotalLiability = ag.Pool.TotalLiability
	ag.Program.PremiumToClaimsRatio = ag.Pool.PremiumToClaimsRatio
	ag.Program.LastUpdate = now

	pol.StartDate = start
	pol.EndDate = end
	pol.ClaimPeriodEnd = end + days(ag.Program.Params.ClaimPeriodDays)
	pol.PeriodDays = periodDays
	pol.Premium = premium
	pol.Reputation = reputation
	pol.RiskScore = pricing.RiskScore
	pol.Status = model.PolicyActive
	pol.Renewals++
	return premium, nil
}

// Refund returns the cancellation refund for a policy at now: nothing once
// half the term has elapsed, otherwise 80% of the unused share of premium.
func Refund(premium uint64, start, end, now int64) (uint64, error) {
	total := end - start
	if total <= 0 {
		return 0, nil
	}
	elapsed := max(now-start, 0)
	if elapsed*2 >= total {
		return 0, nil
	}
	remaining := uint64(total - elapsed)
	return fixedpoint.From(premium).
		Mul(remaining).
		Mul(80).
		Div(uint64(total)).
		Div(100).
		Uint64()
}

// Cancel ends an active policy and returns the refund owed to its owner.
func Cancel(ag *model.Aggregates, product *model.Product, pol *model.Policy, caller string, admin bool, now int64) (uint64, error) {
	if caller != pol.Owner && !admin {
		return 0, fault.ErrUnauthorized.With("only the owner or an admin may cancel")
	}
	if pol.Status != model.PolicyActive {
		return 0, fault.ErrPolicyNotActive.With("policy is %s", pol.Status)
	}
	refund, err := Refund(pol.Premium, pol.StartDate, pol.EndDate, now)
	if err != nil {
		return 0, err
	}
	pool := *ag.Pool
	if err := ledger.RecordRefund(&pool, refund); err != nil {
		return 0, err
	}
	if err := ledger.ReleaseCoverage(&pool, pol.Coverage); err != nil {
		return 0, err
	}

	*ag.Pool = pool
	releaseCounts(ag, product, pol, now)
	pol.Status = model.PolicyCancelled
	return refund, nil
}

// releaseCounts drops pol from the active counters and coverage totals.
// The pool's liability is handled by the caller.
func releaseCounts(ag *model.Aggregates, product *model.Product, pol *model.Policy, now int64) {
	product.ActivePolicies = fixedpoint.SaturatingSub(product.ActivePolicies, 1)
	product.TotalCoverage = fixedpoint.SaturatingSub(product.TotalCoverage, pol.Coverage)
	product.UpdatedAt = now
	ag.Program.ActivePolicies = fixedpoint.SaturatingSub(ag.Program.ActivePolicies, 1)
	ag.Program.TotalLiability = ag.Pool.TotalLiability
	ag.Program.LastUpdate = now
}

// Expire advances pol along Active -> GracePeriod -> Expired once its dates
// have passed. A rejected-claim policy expires like an active one. It
// returns the new status, or "" when nothing changed.
func Expire(ag *model.Aggregates, product *model.Product, pol *model.Policy, now int64) (model.PolicyStatus, error) {
	grace := days(ag.Program.Params.GracePeriodDays)

	var next model.PolicyStatus
	switch pol.Status {
	case model.PolicyActive, model.PolicyClaimRejected:
		if now <= pol.EndDate {
			return "", nil
		}
		next = model.PolicyExpired
		if grace > 0 && now <= pol.EndDate+grace {
			next = model.PolicyGracePeriod
		}
	case model.PolicyGracePeriod:
		if now <= pol.EndDate+grace {
			return "", nil
		}
		next = model.PolicyExpired
	default:
		return "", nil
	}

	if next == model.PolicyExpired {
		pool := *ag.Pool
		if err := ledger.ReleaseCoverage(&pool, pol.Coverage); err != nil {
			return "", err
		}
		*ag.Pool = pool
		releaseCounts(ag, product, pol, now)
	}
	pol.Status = next
	return next, nil
}

// Due reports whether Expire would change pol at now.
func Due(p *model.ProgramParams, pol *model.Policy, now int64) bool {
	switch pol.Status {
	case model.PolicyActive, model.PolicyClaimRejected:
		return now > pol.EndDate
	case model.PolicyGracePeriod:
		return now > pol.EndDate+days(p.GracePeriodDays)
	}
	return false
}
