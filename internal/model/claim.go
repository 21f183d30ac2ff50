package model

// ClaimStatus is the state of a claim in its resolution state machine.
type ClaimStatus string

const (
	ClaimPending       ClaimStatus = "pending"
	ClaimPendingVote   ClaimStatus = "pending_vote"
	ClaimUnderReview   ClaimStatus = "under_review"
	ClaimApproved      ClaimStatus = "approved"
	ClaimRejected      ClaimStatus = "rejected"
	ClaimDisputed      ClaimStatus = "disputed"
	ClaimInArbitration ClaimStatus = "in_arbitration"
	ClaimPaid          ClaimStatus = "paid"
	ClaimExpired       ClaimStatus = "expired"
)

// Terminal reports whether the claim can no longer change.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimPaid || s == ClaimExpired
}

// Vote is one community member's decision on a claim.
type Vote struct {
	Voter    string `json:"voter"`
	Approve  bool   `json:"approve"`
	Reason   string `json:"reason"`
	Sequence uint64 `json:"sequence"`
	At       int64  `json:"at"`
}

// Verdict is the single decision recorded on a claim.
type Verdict struct {
	Approved    bool          `json:"approved"`
	Reason      string        `json:"reason"`
	Processor   ProcessorType `json:"processor"`
	ProcessedAt int64         `json:"processed_at"`
}

// Transition records one status change for audit ordering.
type Transition struct {
	From     ClaimStatus `json:"from"`
	To       ClaimStatus `json:"to"`
	Sequence uint64      `json:"sequence"`
	At       int64       `json:"at"`
}

// Claim is a payout request against a policy.
type Claim struct {
	ID                  string        `json:"id"`
	PolicyID            string        `json:"policy_id"`
	ProductID           string        `json:"product_id"`
	Owner               string        `json:"owner"`
	Index               int           `json:"index"`
	Amount              uint64        `json:"amount"`
	EvidenceType        string        `json:"evidence_type"`
	EvidenceDescription string        `json:"evidence_description"`
	EvidenceHashes      []string      `json:"evidence_hashes"`
	Category            ClaimCategory `json:"category"`
	Status              ClaimStatus   `json:"status"`
	RiskScore           uint8         `json:"risk_score"`
	Votes               []Vote        `json:"votes"`
	VotingDeadline      int64         `json:"voting_deadline"`
	Verdict             *Verdict      `json:"verdict,omitempty"`
	SubmittedAt         int64         `json:"submitted_at"`
	Transitions         []Transition  `json:"transitions"`
}

// Tally counts approve and reject votes.
func (c *Claim) Tally() (approve, reject int) {
	for _, v := range c.Votes {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}
	return approve, reject
}

// HasVoted reports whether voter already voted.
func (c *Claim) HasVoted(voter string) bool {
	for _, v := range c.Votes {
		if v.Voter == voter {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of c.
func (c *Claim) Clone() *Claim {
	out := *c
	out.EvidenceHashes = append([]string(nil), c.EvidenceHashes...)
	out.Votes = append([]Vote(nil), c.Votes...)
	out.Transitions = append([]Transition(nil), c.Transitions...)
	if c.Verdict != nil {
		v := *c.Verdict
		out.Verdict = &v
	}
	return &out
}

// ClaimRequest carries the inputs of a claim submission.
type ClaimRequest struct {
	Amount              uint64        `json:"amount"`
	EvidenceType        string        `json:"evidence_type"`
	EvidenceDescription string        `json:"evidence_description"`
	EvidenceHashes      []string      `json:"evidence_hashes"`
	Category            ClaimCategory `json:"category"`
}
