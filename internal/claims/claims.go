// Package claims implements the claim resolution state machine: submission,
// automatic approval, community voting, arbitration, dispute, payment and
// expiry of stale votes.
//
// As in the policy package, every function validates first and mutates the
// claim, policy and aggregates only once all checks have passed.
package claims

import (
	"fmt"
	"slices"

	"github.com/sells-group/shield/internal/calibrator"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/risk"
)

// Stamp is the engine sequence and clock reading of the current operation.
type Stamp struct {
	Seq uint64
	At  int64
}

// Supermajority is the vote share (percent) that decides a claim.
const Supermajority = 67

var graph = map[model.ClaimStatus][]model.ClaimStatus{
	model.ClaimPending:       {model.ClaimApproved, model.ClaimPendingVote},
	model.ClaimPendingVote:   {model.ClaimUnderReview, model.ClaimApproved, model.ClaimRejected, model.ClaimInArbitration, model.ClaimExpired},
	model.ClaimUnderReview:   {model.ClaimApproved, model.ClaimRejected, model.ClaimInArbitration},
	model.ClaimApproved:      {model.ClaimPaid},
	model.ClaimRejected:      {model.ClaimDisputed},
	model.ClaimDisputed:      {model.ClaimApproved, model.ClaimRejected},
	model.ClaimInArbitration: {model.ClaimApproved, model.ClaimRejected},
}

// Allowed reports whether a claim may move from one status to another.
func Allowed(from, to model.ClaimStatus) bool {
	return slices.Contains(graph[from], to)
}

func transition(c *model.Claim, to model.ClaimStatus, st Stamp) error {
	if !Allowed(c.Status, to) {
		return fault.ErrInvalidTransition.With("claim %s cannot move from %s to %s", c.ID, c.Status, to)
	}
	c.Transitions = append(c.Transitions, model.Transition{From: c.Status, To: to, Sequence: st.Seq, At: st.At})
	c.Status = to
	return nil
}

func validateEvidenceHashes(hashes []string) error {
	for _, h := range hashes {
		if h == "" || len(h) > model.MaxEvidenceHashLength {
			return fault.ErrInvalidEvidenceHash.With("evidence hash must be 1-%d characters", model.MaxEvidenceHashLength)
		}
	}
	return nil
}

func validateReason(reason string) error {
	if reason == "" || len(reason) > model.MaxReasonLength {
		return fault.ErrInvalidReason.With("reason must be 1-%d characters", model.MaxReasonLength)
	}
	return nil
}

// MinimumAmount is the smallest claimable amount: 1% of coverage, rounded up.
func MinimumAmount(coverage uint64) uint64 {
	m := coverage / 100
	if coverage%100 != 0 {
		m++
	}
	return m
}

// Submit files a claim against pol. Low-risk claims within the automatic
// limits are approved on the spot; the rest open for community voting.
func Submit(ag *model.Aggregates, product *model.Product, pol *model.Policy, id, claimant string, req model.ClaimRequest, st Stamp) (*model.Claim, error) {
	if ag.Program.Paused {
		return nil, fault.ErrProgramPaused
	}
	if claimant != pol.Owner {
		return nil, fault.ErrUnauthorized.With("only the policy owner may claim")
	}
	if pol.Status != model.PolicyActive {
		return nil, fault.ErrPolicyNotActive.With("policy is %s", pol.Status)
	}
	if st.At > pol.ClaimPeriodEnd {
		return nil, fault.ErrClaimPeriodEnded
	}
	if pol.ClaimsCount >= model.MaxClaimsPerPolicy {
		return nil, fault.ErrTooManyClaims.With("policy already has %d claims", pol.ClaimsCount)
	}
	if req.Amount > pol.Coverage {
		return nil, fault.ErrInvalidClaimAmount.With("amount %d exceeds coverage %d", req.Amount, pol.Coverage)
	}
	if req.Amount < MinimumAmount(pol.Coverage) {
		return nil, fault.ErrClaimAmountTooSmall.With("amount %d below 1%% of coverage %d", req.Amount, pol.Coverage)
	}
	if len(req.EvidenceType) > model.MaxEvidenceTypeLength {
		return nil, fault.ErrInvalidEvidenceType
	}
	if len(req.EvidenceDescription) > model.MaxEvidenceDescriptionLength {
		return nil, fault.ErrInvalidEvidenceDescription
	}
	if len(req.EvidenceHashes) > model.MaxEvidenceAttachments {
		return nil, fault.ErrTooManyEvidenceAttachments.With("%d attachments exceed %d", len(req.EvidenceHashes), model.MaxEvidenceAttachments)
	}
	if err := validateEvidenceHashes(req.EvidenceHashes); err != nil {
		return nil, err
	}
	category := req.Category
	if category == "" {
		category = model.CategoryOther
	}
	if !category.Valid() {
		return nil, fault.ErrInvalidEnum.With("unknown claim category %q", category)
	}

	avg, hasAvg := product.AverageClaim()
	score, err := risk.ClaimRiskScore(risk.ClaimRiskInput{
		PolicyRisk:     pol.RiskScore,
		Amount:         req.Amount,
		Coverage:       pol.Coverage,
		PolicySeconds:  pol.EndDate - pol.StartDate,
		ElapsedSeconds: st.At - pol.StartDate,
		PriorClaims:    pol.ClaimsCount,
		AverageClaim:   avg,
		HasAverage:     hasAvg,
	})
	if err != nil {
		return nil, err
	}

	c := &model.Claim{
		ID:                  id,
		PolicyID:            pol.ID,
		ProductID:           pol.ProductID,
		Owner:               claimant,
		Index:               len(pol.ClaimIDs),
		Amount:              req.Amount,
		EvidenceType:        req.EvidenceType,
		EvidenceDescription: req.EvidenceDescription,
		EvidenceHashes:      append([]string(nil), req.EvidenceHashes...),
		Category:            category,
		Status:              model.ClaimPending,
		RiskScore:           score,
		VotingDeadline:      st.At + int64(ag.Program.Params.VotingPeriodDays)*model.SecondsPerDay,
		SubmittedAt:         st.At,
	}

	params := ag.Program.Params
	if uint64(score) <= params.AutoProcessThreshold &&
		req.Amount <= params.AutoClaimLimit &&
		req.Amount <= ag.Pool.MaxAutoApprove {
		if err := approve(ag, pol, c, model.ProcessorAutomated,
			"Auto-approved based on low risk score and amount within auto-approval limit", st); err != nil {
			return nil, err
		}
	} else if err := transition(c, model.ClaimPendingVote, st); err != nil {
		return nil, err
	}

	pol.ClaimsCount++
	pol.ClaimIDs = append(pol.ClaimIDs, id)
	pol.Status = model.PolicyClaimPending
	return c, nil
}

func approve(ag *model.Aggregates, pol *model.Policy, c *model.Claim, by model.ProcessorType, reason string, st Stamp) error {
	if err := transition(c, model.ClaimApproved, st); err != nil {
		return err
	}
	c.Verdict = &model.Verdict{Approved: true, Reason: reason, Processor: by, ProcessedAt: st.At}
	ag.Program.ApprovedClaims++
	if ag.Calibrator != nil {
		calibrator.Update(ag.Calibrator, pol.JobType, pol.Industry, pol.ClaimsHistory, true)
	}
	return nil
}

func reject(ag *model.Aggregates, c *model.Claim, by model.ProcessorType, reason string, st Stamp) error {
	if err := transition(c, model.ClaimRejected, st); err != nil {
		return err
	}
	c.Verdict = &model.Verdict{Approved: false, Reason: reason, Processor: by, ProcessedAt: st.At}
	ag.Program.RejectedClaims++
	return nil
}

// Vote records voter's decision and tallies once the quorum is reached.
func Vote(ag *model.Aggregates, pol *model.Policy, c *model.Claim, voter string, approveClaim bool, reason string, st Stamp) error {
	if c.Status != model.ClaimPendingVote && c.Status != model.ClaimUnderReview {
		return fault.ErrClaimNotPendingVote.With("claim is %s", c.Status)
	}
	if st.At > c.VotingDeadline {
		return fault.ErrVotingPeriodEnded
	}
	if len(reason) > model.MaxReasonLength {
		return fault.ErrInvalidVoteReason.With("reason exceeds %d characters", model.MaxReasonLength)
	}
	if voter == c.Owner {
		return fault.ErrUnauthorized.With("claimant may not vote on own claim")
	}
	if c.HasVoted(voter) {
		return fault.ErrAlreadyVoted
	}
	if len(c.Votes) >= model.MaxVotes {
		return fault.ErrTooManyVotes
	}

	c.Votes = append(c.Votes, model.Vote{Voter: voter, Approve: approveClaim, Reason: reason, Sequence: st.Seq, At: st.At})
	return tally(ag, pol, c, st)
}

func tally(ag *model.Aggregates, pol *model.Policy, c *model.Claim, st Stamp) error {
	minVotes := ag.Program.Params.MinVotesRequired
	total := uint64(len(c.Votes))
	if total < minVotes {
		return nil
	}
	yes, no := c.Tally()

	switch {
	case uint64(yes)*100 >= Supermajority*total:
		return approve(ag, pol, c, model.ProcessorCommunity,
			fmt.Sprintf("Approved by community vote (%d/%d)", yes, total), st)
	case uint64(no)*100 >= Supermajority*total:
		if err := reject(ag, c, model.ProcessorCommunity,
			fmt.Sprintf("Rejected by community vote (%d/%d)", no, total), st); err != nil {
			return err
		}
		pol.Status = model.PolicyClaimRejected
		return nil
	case total >= 2*minVotes:
		return transition(c, model.ClaimInArbitration, st)
	case c.Status == model.ClaimPendingVote:
		return transition(c, model.ClaimUnderReview, st)
	}
	return nil
}

// Arbitrate settles a claim that voting could not decide or that its owner
// disputed. The caller's arbitrator permission is checked by the engine.
// A closed policy can only see its claim rejected, and keeps its status.
func Arbitrate(ag *model.Aggregates, pol *model.Policy, c *model.Claim, approveClaim bool, reason string, st Stamp) error {
	if c.Status != model.ClaimInArbitration && c.Status != model.ClaimDisputed {
		return fault.ErrClaimNotInArbitration.With("claim is %s", c.Status)
	}
	if err := validateReason(reason); err != nil {
		return err
	}
	closed := pol.Status.Closed()
	if approveClaim && closed {
		return fault.ErrPolicyNotActive.With("policy is %s", pol.Status)
	}
	if approveClaim {
		if err := approve(ag, pol, c, model.ProcessorArbitration, reason, st); err != nil {
			return err
		}
		pol.Status = model.PolicyClaimPending
	} else {
		if err := reject(ag, c, model.ProcessorArbitration, reason, st); err != nil {
			return err
		}
		if !closed {
			pol.Status = model.PolicyActive
		}
	}
	ag.Program.ArbitratedClaims++
	return nil
}

// Dispute reopens a rejected claim for arbitration within the dispute window.
// A claim is disputed at most once. The policy is held in claim pending
// until the arbitrator decides, so it cannot be cancelled or expired.
func Dispute(ag *model.Aggregates, pol *model.Policy, c *model.Claim, caller, reason string, evidence []string, st Stamp) error {
	if caller != c.Owner {
		return fault.ErrUnauthorized.With("only the claimant may dispute")
	}
	if c.Status != model.ClaimRejected {
		return fault.ErrClaimNotRejected.With("claim is %s", c.Status)
	}
	if disputed(c) {
		return fault.ErrAlreadyDisputed
	}
	if pol.Status.Closed() {
		return fault.ErrPolicyNotActive.With("policy is %s", pol.Status)
	}
	var decidedAt int64
	if c.Verdict != nil {
		decidedAt = c.Verdict.ProcessedAt
	}
	if st.At > decidedAt+int64(ag.Program.Params.DisputeWindowDays)*model.SecondsPerDay {
		return fault.ErrDisputePeriodEnded
	}
	if err := validateReason(reason); err != nil {
		return err
	}
	if len(c.EvidenceHashes)+len(evidence) > model.MaxEvidenceAttachments {
		return fault.ErrTooManyEvidenceAttachments.With("%d attachments exceed %d",
			len(c.EvidenceHashes)+len(evidence), model.MaxEvidenceAttachments)
	}
	if err := validateEvidenceHashes(evidence); err != nil {
		return err
	}

	if err := transition(c, model.ClaimDisputed, st); err != nil {
		return err
	}
	c.EvidenceHashes = append(c.EvidenceHashes, evidence...)
	if c.Verdict != nil {
		c.Verdict.Reason = fmt.Sprintf("DISPUTED: %s | Original reason: %s", reason, c.Verdict.Reason)
	}
	pol.Status = model.PolicyClaimPending
	return nil
}

func disputed(c *model.Claim) bool {
	return slices.ContainsFunc(c.Transitions, func(t model.Transition) bool { return t.To == model.ClaimDisputed })
}

// Pay settles an approved claim against the pool. The engine moves the
// amount from the vault to the claimant.
func Pay(ag *model.Aggregates, product *model.Product, pol *model.Policy, c *model.Claim, st Stamp) error {
	if c.Status != model.ClaimApproved || c.Verdict == nil || !c.Verdict.Approved {
		return fault.ErrClaimNotApproved.With("claim is %s", c.Status)
	}
	if pol.Status != model.PolicyClaimPending {
		return fault.ErrPolicyNotInClaimPending.With("policy is %s", pol.Status)
	}

	pool := *ag.Pool
	if err := ledger.RecordClaimPayment(&pool, c.Amount, pol.Coverage); err != nil {
		return err
	}
	paid, err := fixedpoint.Add(product.ClaimsPaid, c.Amount)
	if err != nil {
		return err
	}
	lossRatio, err := fixedpoint.Ratio(paid, product.TotalPremiums, 0)
	if err != nil {
		return err
	}
	programPaid, err := fixedpoint.Add(ag.Program.TotalClaimsPaid, c.Amount)
	if err != nil {
		return err
	}
	if err := transition(c, model.ClaimPaid, st); err != nil {
		return err
	}

	*ag.Pool = pool
	product.ClaimsPaid = paid
	product.PaidClaimsCount++
	product.LossRatio = lossRatio
	product.ActivePolicies = fixedpoint.SaturatingSub(product.ActivePolicies, 1)
	product.TotalCoverage = fixedpoint.SaturatingSub(product.TotalCoverage, pol.Coverage)
	product.UpdatedAt = st.At

	ag.Program.TotalClaimsPaid = programPaid
	ag.Program.ActivePolicies = fixedpoint.SaturatingSub(ag.Program.ActivePolicies, 1)
	ag.Program.TotalLiability = ag.Pool.TotalLiability
	ag.Program.PremiumToClaimsRatio = ag.Pool.PremiumToClaimsRatio
	ag.Program.LastUpdate = st.At

	pol.Status = model.PolicyClaimPaid
	return nil
}

// Expire closes voting on a claim whose deadline has passed. Without a
// quorum the claim expires and its policy returns to active; a quorum
// without a supermajority goes to arbitration.
func Expire(ag *model.Aggregates, pol *model.Policy, c *model.Claim, st Stamp) (model.ClaimStatus, error) {
	if c.Status != model.ClaimPendingVote && c.Status != model.ClaimUnderReview {
		return "", fault.ErrClaimNotPendingVote.With("claim is %s", c.Status)
	}
	if st.At <= c.VotingDeadline {
		return "", fault.ErrClaimNotExpirable
	}
	to := model.ClaimExpired
	if uint64(len(c.Votes)) >= ag.Program.Params.MinVotesRequired {
		to = model.ClaimInArbitration
	}
	if err := transition(c, to, st); err != nil {
		return "", err
	}
	if to == model.ClaimExpired && pol.Status == model.PolicyClaimPending {
		pol.Status = model.PolicyActive
	}
	return to, nil
}

// Stale reports whether Expire would act on c at now.
func Stale(c *model.Claim, now int64) bool {
	return (c.Status == model.ClaimPendingVote || c.Status == model.ClaimUnderReview) && now > c.VotingDeadline
}
