package model

// PolicyStatus is the lifecycle state of a policy.
type PolicyStatus string

const (
	PolicyActive        PolicyStatus = "active"
	PolicyExpired       PolicyStatus = "expired"
	PolicyCancelled     PolicyStatus = "cancelled"
	PolicyClaimPending  PolicyStatus = "claim_pending"
	PolicyClaimPaid     PolicyStatus = "claim_paid"
	PolicyClaimRejected PolicyStatus = "claim_rejected"
	PolicyGracePeriod   PolicyStatus = "grace_period"
)

// Terminal reports whether no further lifecycle operation applies.
func (s PolicyStatus) Terminal() bool {
	return s == PolicyCancelled || s == PolicyClaimPaid
}

// Closed reports whether the policy's coverage has left the pool: it was
// cancelled, paid out or expired. No claim on a closed policy can reopen it.
func (s PolicyStatus) Closed() bool {
	return s == PolicyCancelled || s == PolicyClaimPaid || s == PolicyExpired
}

// Policy is one issued coverage contract.
type Policy struct {
	ID             string       `json:"id"`
	Owner          string       `json:"owner"`
	ProductID      string       `json:"product_id"`
	Coverage       uint64       `json:"coverage"`
	Premium        uint64       `json:"premium"`
	PeriodDays     uint64       `json:"period_days"`
	StartDate      int64        `json:"start_date"`
	EndDate        int64        `json:"end_date"`
	ClaimPeriodEnd int64        `json:"claim_period_end"`
	Status         PolicyStatus `json:"status"`
	JobType        JobType      `json:"job_type"`
	Industry       Industry     `json:"industry"`
	Reputation     uint8        `json:"reputation"`
	ClaimsHistory  uint8        `json:"claims_history"`
	RiskScore      uint8        `json:"risk_score"`
	ClaimsCount    uint64       `json:"claims_count"`
	ClaimIDs       []string     `json:"claim_ids"`
	Details        string       `json:"details,omitempty"`
	Renewals       uint64       `json:"renewals"`
	CreatedSeq     uint64       `json:"created_seq"`
	LastSeq        uint64       `json:"last_seq"`
}

// ClaimIndex returns the position of claimID in the policy's claim index.
func (p *Policy) ClaimIndex(claimID string) (int, bool) {
	for i, id := range p.ClaimIDs {
		if id == claimID {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	c := *p
	c.ClaimIDs = append([]string(nil), p.ClaimIDs...)
	return &c
}

// PurchaseRequest carries the inputs of a policy purchase.
type PurchaseRequest struct {
	ProductID     string   `json:"product_id"`
	Coverage      uint64   `json:"coverage"`
	PeriodDays    uint64   `json:"period_days"`
	JobType       JobType  `json:"job_type"`
	Industry      Industry `json:"industry"`
	Reputation    *uint8   `json:"reputation,omitempty"`
	ClaimsHistory *uint8   `json:"claims_history,omitempty"`
	Details       string   `json:"details,omitempty"`
}
