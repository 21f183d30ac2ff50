package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/claims"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/reputation"
)

// verdictOutcome maps a fresh verdict on c to the claimant's reputation
// outcome. A decision on a disputed claim settles the dispute instead.
func verdictOutcome(o *op, before model.ClaimStatus, c *model.Claim) {
	if c.Verdict == nil || before == c.Status {
		return
	}
	switch c.Status {
	case model.ClaimApproved:
		if before == model.ClaimDisputed {
			o.outcome(c.Owner, reputation.DisputeNotAtFault)
			return
		}
		o.outcome(c.Owner, reputation.ClaimApproved)
	case model.ClaimRejected:
		if before == model.ClaimDisputed {
			o.outcome(c.Owner, reputation.DisputeAtFault)
			return
		}
		o.outcome(c.Owner, reputation.ClaimRejected)
	}
}

// claimOp loads a claim with its policy and runs fn on them. Both are saved
// when fn succeeds.
func (o *op) claimOp(claimID string, fn func(ag *model.Aggregates, pol *model.Policy, c *model.Claim) error) (*model.Claim, error) {
	ag, err := o.aggregates()
	if err != nil {
		return nil, err
	}
	c, err := o.claim(claimID)
	if err != nil {
		return nil, err
	}
	pol, err := o.policy(c.PolicyID)
	if err != nil {
		return nil, err
	}
	if _, ok := pol.ClaimIndex(c.ID); !ok {
		return nil, fault.ErrClaimNotFound.With("claim %q is not indexed by policy %q", c.ID, pol.ID)
	}
	before := c.Status
	if err := fn(ag, pol, c); err != nil {
		return nil, err
	}
	pol.LastSeq = o.st.Seq
	o.save(model.KindClaim, c.ID, c.PolicyID, c)
	o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
	verdictOutcome(o, before, c)
	o.with(zap.String("claim_id", c.ID), zap.String("policy_id", pol.ID), zap.String("status", string(c.Status)))
	return c, nil
}

// SubmitClaim files a claim by the policy owner.
func (e *Engine) SubmitClaim(ctx context.Context, cred auth.Credential, policyID string, req model.ClaimRequest) (*model.Claim, error) {
	const name = "submit_claim"
	claimant, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	var out *model.Claim
	err = e.run(ctx, name, claimant, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		pol, err := o.policy(policyID)
		if err != nil {
			return err
		}
		product, err := o.product(pol.ProductID)
		if err != nil {
			return err
		}
		c, err := claims.Submit(ag, product, pol, uuid.NewString(), claimant, req, o.st)
		if err != nil {
			return err
		}
		pol.LastSeq = o.st.Seq
		o.save(model.KindClaim, c.ID, c.PolicyID, c)
		o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
		verdictOutcome(o, model.ClaimPending, c)
		o.with(zap.String("claim_id", c.ID), zap.String("policy_id", pol.ID),
			zap.Uint64("amount", c.Amount), zap.String("status", string(c.Status)))
		out = c
		return o.emit(model.EventClaimSubmitted, model.KindClaim, c.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Vote records the caller's vote on a claim.
func (e *Engine) Vote(ctx context.Context, cred auth.Credential, claimID string, approve bool, reason string) (*model.Claim, error) {
	const name = "vote"
	voter, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	var out *model.Claim
	err = e.run(ctx, name, voter, func(o *op) error {
		c, err := o.claimOp(claimID, func(ag *model.Aggregates, pol *model.Policy, c *model.Claim) error {
			return claims.Vote(ag, pol, c, voter, approve, reason, o.st)
		})
		if err != nil {
			return err
		}
		out = c
		return o.emit(model.EventClaimVoted, model.KindClaim, c.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Arbitrate decides a claim in arbitration or dispute. Only arbitrators and
// admins may call it.
func (e *Engine) Arbitrate(ctx context.Context, cred auth.Credential, claimID string, approve bool, reason string) (*model.Claim, error) {
	const name = "arbitrate"
	actor, err := e.authorize(ctx, name, cred, auth.ActionArbitrate)
	if err != nil {
		return nil, err
	}
	var out *model.Claim
	err = e.run(ctx, name, actor, func(o *op) error {
		c, err := o.claimOp(claimID, func(ag *model.Aggregates, pol *model.Policy, c *model.Claim) error {
			return claims.Arbitrate(ag, pol, c, approve, reason, o.st)
		})
		if err != nil {
			return err
		}
		out = c
		return o.emit(model.EventClaimArbitrated, model.KindClaim, c.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dispute reopens the caller's rejected claim with a reason and additional
// evidence hashes.
func (e *Engine) Dispute(ctx context.Context, cred auth.Credential, claimID, reason string, evidence []string) (*model.Claim, error) {
	const name = "dispute"
	caller, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	var out *model.Claim
	err = e.run(ctx, name, caller, func(o *op) error {
		c, err := o.claimOp(claimID, func(ag *model.Aggregates, pol *model.Policy, c *model.Claim) error {
			return claims.Dispute(ag, pol, c, caller, reason, evidence, o.st)
		})
		if err != nil {
			return err
		}
		out = c
		return o.emit(model.EventClaimDisputed, model.KindClaim, c.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PayClaim pays an approved claim from the vault to the claimant. The
// claimant or an admin may trigger it.
func (e *Engine) PayClaim(ctx context.Context, cred auth.Credential, claimID string) (*model.Claim, error) {
	const name = "pay_claim"
	caller, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	admin := e.isAdmin(ctx, caller)
	var out *model.Claim
	err = e.run(ctx, name, caller, func(o *op) error {
		var paidPolicy *model.Policy
		c, err := o.claimOp(claimID, func(ag *model.Aggregates, pol *model.Policy, c *model.Claim) error {
			if caller != c.Owner && !admin {
				return fault.ErrUnauthorized.With("only the claimant or an admin may trigger payment")
			}
			product, err := o.product(pol.ProductID)
			if err != nil {
				return err
			}
			if err := claims.Pay(ag, product, pol, c, o.st); err != nil {
				return err
			}
			if err := o.transfer(model.Transfer{
				From:   model.VaultAccount,
				To:     c.Owner,
				Amount: c.Amount,
				Memo:   "claim " + c.ID,
				Key:    "claim:" + c.ID,
			}); err != nil {
				return err
			}
			o.save(model.KindProduct, product.ID, "", product)
			paidPolicy = pol
			return nil
		})
		if err != nil {
			return err
		}
		o.archive(model.KindClaim, c.ID, c)
		o.archive(model.KindPolicy, paidPolicy.ID, paidPolicy)
		o.with(zap.Uint64("amount", c.Amount))
		out = c
		return o.emit(model.EventClaimPaid, model.KindClaim, c.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireClaim closes voting on a claim past its deadline.
func (e *Engine) ExpireClaim(ctx context.Context, cred auth.Credential, claimID string) (*model.Claim, error) {
	const name = "expire_claim"
	caller, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	var out *model.Claim
	err = e.run(ctx, name, caller, func(o *op) error {
		c, err := o.claimOp(claimID, func(ag *model.Aggregates, pol *model.Policy, c *model.Claim) error {
			_, err := claims.Expire(ag, pol, c, o.st)
			return err
		})
		if err != nil {
			return err
		}
		if c.Status == model.ClaimExpired {
			o.archive(model.KindClaim, c.ID, c)
		}
		out = c
		return o.emit(model.EventClaimExpired, model.KindClaim, c.ID, c)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
