package model

// RiskPool is the pooled capital backing all policies.
type RiskPool struct {
	TotalCapital         uint64 `json:"total_capital"`
	TotalLiability       uint64 `json:"total_liability"`
	ReserveRatio         uint64 `json:"reserve_ratio"`
	TargetReserveRatio   uint64 `json:"target_reserve_ratio"`
	TotalPremiums        uint64 `json:"total_premiums"`
	TotalClaimsPaid      uint64 `json:"total_claims_paid"`
	PremiumToClaimsRatio uint64 `json:"premium_to_claims_ratio"`
	MaxAutoApprove       uint64 `json:"max_auto_approve"`
	StakingAllocation    uint64 `json:"staking_allocation"`
	TreasuryAllocation   uint64 `json:"treasury_allocation"`
	Paused               bool   `json:"paused"`
	ProviderCount        uint64 `json:"provider_count"`
	LastUpdate           int64  `json:"last_update"`
}

// CapitalProvider is one capital supplier's position in the pool.
type CapitalProvider struct {
	Identity       string `json:"identity"`
	Deposited      uint64 `json:"deposited"`
	Rewards        uint64 `json:"rewards"`
	FirstDeposit   int64  `json:"first_deposit"`
	LastDeposit    int64  `json:"last_deposit"`
	LastWithdrawal int64  `json:"last_withdrawal"`
}

// Transfer is a value movement between two book accounts.
type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Memo   string `json:"memo,omitempty"`
	// Key is the idempotency key an external gateway collapses retries of
	// this transfer under. It travels as a header, not in the body.
	Key string `json:"-"`
}

// VaultAccount is the book account that holds pool capital.
const VaultAccount = "pool:vault"
