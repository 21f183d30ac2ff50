// Package ledger keeps the risk pool's capital accounting: capital, coverage
// liability, reserve ratio and capital provider positions.
//
// Every function validates before it mutates, so a returned error leaves the
// pool and provider untouched. Premiums received and amounts paid out move
// through TotalCapital, keeping it equal to the vault balance.
package ledger

import (
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
	"github.com/sells-group/shield/internal/model"
)

// ReserveRatio returns capital*100/liability, or 100 when liability is 0.
func ReserveRatio(capital, liability uint64) (uint64, error) {
	return fixedpoint.Ratio(capital, liability, 100)
}

// PremiumToClaimsRatio returns premiums*100/claimsPaid, or 100 before any
// claim has been paid.
func PremiumToClaimsRatio(premiums, claimsPaid uint64) (uint64, error) {
	return fixedpoint.Ratio(premiums, claimsPaid, 100)
}

// NewPool returns an empty pool configured from program parameters.
func NewPool(params model.ProgramParams, now int64) *model.RiskPool {
	return &model.RiskPool{
		ReserveRatio:         100,
		TargetReserveRatio:   params.TargetReserveRatio,
		PremiumToClaimsRatio: 100,
		MaxAutoApprove:       params.MaxAutoApprove,
		StakingAllocation:    params.StakingAllocation,
		TreasuryAllocation:   params.TreasuryAllocation,
		LastUpdate:           now,
	}
}

// MinimumCapital is the capital floor liability*target/100.
func MinimumCapital(pool *model.RiskPool) (uint64, error) {
	return fixedpoint.Percent(pool.TotalLiability, pool.TargetReserveRatio)
}

func recompute(pool *model.RiskPool, capital, liability uint64) error {
	ratio, err := ReserveRatio(capital, liability)
	if err != nil {
		return err
	}
	pool.TotalCapital = capital
	pool.TotalLiability = liability
	pool.ReserveRatio = ratio
	return nil
}

// Deposit adds amount to the pool on behalf of provider. A zero-value
// provider is initialized. It reports whether this was the provider's first
// deposit.
func Deposit(pool *model.RiskPool, provider *model.CapitalProvider, identity string, amount uint64, now int64) (bool, error) {
	if amount == 0 {
		return false, fault.ErrInvalidDepositAmount
	}
	if pool.Paused {
		return false, fault.ErrRiskPoolPaused
	}
	capital, err := fixedpoint.Add(pool.TotalCapital, amount)
	if err != nil {
		return false, err
	}
	deposited, err := fixedpoint.Add(provider.Deposited, amount)
	if err != nil {
		return false, err
	}
	if err := recompute(pool, capital, pool.TotalLiability); err != nil {
		return false, err
	}

	first := provider.FirstDeposit == 0
	if first {
		provider.Identity = identity
		provider.FirstDeposit = now
		pool.ProviderCount++
	}
	provider.Deposited = deposited
	provider.LastDeposit = now
	pool.LastUpdate = now
	return first, nil
}

// Withdraw returns amount to provider if the pool stays above its floor.
func Withdraw(pool *model.RiskPool, provider *model.CapitalProvider, amount uint64, now int64) error {
	if amount == 0 {
		return fault.ErrInvalidWithdrawalAmount
	}
	if pool.Paused {
		return fault.ErrRiskPoolPaused
	}
	if amount > provider.Deposited {
		return fault.ErrInsufficientBalance.With("withdrawal %d exceeds deposited %d", amount, provider.Deposited)
	}
	if amount > pool.TotalCapital {
		return fault.ErrWithdrawalExceedsAvailableCapital.With("withdrawal %d exceeds capital %d", amount, pool.TotalCapital)
	}
	floor, err := MinimumCapital(pool)
	if err != nil {
		return err
	}
	remaining := pool.TotalCapital - amount
	if remaining < floor {
		return fault.ErrWithdrawalExceedsAvailableCapital.With("capital %d would fall below floor %d", remaining, floor)
	}
	if err := recompute(pool, remaining, pool.TotalLiability); err != nil {
		return err
	}
	provider.Deposited -= amount
	provider.LastWithdrawal = now
	pool.LastUpdate = now
	return nil
}

// RecordPolicyIssuance adds a new policy's coverage to liability and its
// premium to capital and collected premiums.
func RecordPolicyIssuance(pool *model.RiskPool, coverage, premium uint64) error {
	liability, err := fixedpoint.Add(pool.TotalLiability, coverage)
	if err != nil {
		return err
	}
	capital, err := fixedpoint.Add(pool.TotalCapital, premium)
	if err != nil {
		return err
	}
	premiums, err := fixedpoint.Add(pool.TotalPremiums, premium)
	if err != nil {
		return err
	}
	ptc, err := PremiumToClaimsRatio(premiums, pool.TotalClaimsPaid)
	if err != nil {
		return err
	}
	if err := recompute(pool, capital, liability); err != nil {
		return err
	}
	pool.TotalPremiums = premiums
	pool.PremiumToClaimsRatio = ptc
	return nil
}

// RecordPremium adds a renewal premium without changing liability.
func RecordPremium(pool *model.RiskPool, premium uint64) error {
	return RecordPolicyIssuance(pool, 0, premium)
}

// RecordClaimPayment pays amount out of capital and releases the policy's
// coverage from liability.
func RecordClaimPayment(pool *model.RiskPool, amount, released uint64) error {
	if err := CanPay(pool, amount); err != nil {
		return err
	}
	liability, err := fixedpoint.Sub(pool.TotalLiability, released)
	if err != nil {
		return err
	}
	paid, err := fixedpoint.Add(pool.TotalClaimsPaid, amount)
	if err != nil {
		return err
	}
	ptc, err := PremiumToClaimsRatio(pool.TotalPremiums, paid)
	if err != nil {
		return err
	}
	if err := recompute(pool, pool.TotalCapital-amount, liability); err != nil {
		return err
	}
	pool.TotalClaimsPaid = paid
	pool.PremiumToClaimsRatio = ptc
	return nil
}

// RecordRefund pays a cancellation refund out of capital.
func RecordRefund(pool *model.RiskPool, refund uint64) error {
	if refund > pool.TotalCapital {
		return fault.ErrInsufficientFunds.With("refund %d exceeds capital %d", refund, pool.TotalCapital)
	}
	return recompute(pool, pool.TotalCapital-refund, pool.TotalLiability)
}

// ReleaseCoverage removes coverage from liability on cancellation or expiry.
func ReleaseCoverage(pool *model.RiskPool, coverage uint64) error {
	liability, err := fixedpoint.Sub(pool.TotalLiability, coverage)
	if err != nil {
		return err
	}
	return recompute(pool, pool.TotalCapital, liability)
}

// RestoreCoverage adds a lapsed policy's coverage back on renewal.
func RestoreCoverage(pool *model.RiskPool, coverage uint64) error {
	liability, err := fixedpoint.Add(pool.TotalLiability, coverage)
	if err != nil {
		return err
	}
	return recompute(pool, pool.TotalCapital, liability)
}

// UpdateMetrics recomputes the derived ratios.
func UpdateMetrics(pool *model.RiskPool, now int64) error {
	ptc, err := PremiumToClaimsRatio(pool.TotalPremiums, pool.TotalClaimsPaid)
	if err != nil {
		return err
	}
	if err := recompute(pool, pool.TotalCapital, pool.TotalLiability); err != nil {
		return err
	}
	pool.PremiumToClaimsRatio = ptc
	pool.LastUpdate = now
	return nil
}

// SetAllocations sets the staking and treasury split, which must sum to 100.
func SetAllocations(pool *model.RiskPool, staking, treasury uint64) error {
	if staking+treasury != 100 || staking > 100 {
		return fault.ErrInvalidAllocationPercentages.With("staking %d + treasury %d must equal 100", staking, treasury)
	}
	pool.StakingAllocation = staking
	pool.TreasuryAllocation = treasury
	return nil
}

// CanPay reports whether the pool holds at least amount of capital.
func CanPay(pool *model.RiskPool, amount uint64) error {
	if amount > pool.TotalCapital {
		return fault.ErrInsufficientFunds.With("pool capital %d below %d", pool.TotalCapital, amount)
	}
	return nil
}
