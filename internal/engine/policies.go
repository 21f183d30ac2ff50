package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/policy"
	"github.com/sells-group/shield/internal/store"
)

// QuoteRequest asks for a price without buying.
type QuoteRequest struct {
	ProductID     string         `json:"product_id"`
	Coverage      uint64         `json:"coverage"`
	PeriodDays    uint64         `json:"period_days"`
	JobType       model.JobType  `json:"job_type"`
	Industry      model.Industry `json:"industry"`
	Reputation    *uint8         `json:"reputation,omitempty"`
	ClaimsHistory uint8          `json:"claims_history"`
}

// Quote prices a prospective policy for the caller. It writes nothing.
func (e *Engine) Quote(ctx context.Context, cred auth.Credential, req QuoteRequest) (policy.Pricing, error) {
	const name = "quote"
	caller, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return policy.Pricing{}, err
	}
	rep, err := e.score(ctx, caller, req.Reputation)
	if err != nil {
		return policy.Pricing{}, e.reject(name, caller, err)
	}
	var out policy.Pricing
	err = e.read(ctx, func(tx store.Tx) error {
		ag, err := loadAggregates(ctx, tx)
		if err != nil {
			return err
		}
		product, err := readProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		out, err = policy.Price(ag, product, policy.Terms{
			Coverage:      req.Coverage,
			PeriodDays:    req.PeriodDays,
			JobType:       req.JobType,
			Industry:      req.Industry,
			Reputation:    rep,
			ClaimsHistory: req.ClaimsHistory,
		})
		return err
	})
	if err != nil {
		return policy.Pricing{}, e.reject(name, caller, err)
	}
	return out, nil
}

// Purchase issues a policy to the caller and collects its premium into
// the vault.
func (e *Engine) Purchase(ctx context.Context, cred auth.Credential, req model.PurchaseRequest) (*model.Policy, error) {
	const name = "purchase"
	owner, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	rep, err := e.score(ctx, owner, req.Reputation)
	if err != nil {
		return nil, e.reject(name, owner, err)
	}
	var out *model.Policy
	err = e.run(ctx, name, owner, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		product, err := o.product(req.ProductID)
		if err != nil {
			return err
		}
		pol, err := policy.Purchase(ag, product, uuid.NewString(), owner, req, rep, o.st.At)
		if err != nil {
			return err
		}
		pol.CreatedSeq, pol.LastSeq = o.st.Seq, o.st.Seq
		if err := o.transfer(model.Transfer{
			From:   owner,
			To:     model.VaultAccount,
			Amount: pol.Premium,
			Memo:   "premium " + pol.ID,
		}); err != nil {
			return err
		}
		o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
		o.save(model.KindProduct, product.ID, "", product)
		o.with(zap.String("policy_id", pol.ID), zap.Uint64("coverage", pol.Coverage), zap.Uint64("premium", pol.Premium))
		out = pol
		return o.emit(model.EventPolicyPurchased, model.KindPolicy, pol.ID, pol)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Renew extends the caller's policy by periodDays.
func (e *Engine) Renew(ctx context.Context, cred auth.Credential, policyID string, periodDays uint64) (*model.Policy, error) {
	const name = "renew"
	caller, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	rep, err := e.score(ctx, caller, nil)
	if err != nil {
		return nil, e.reject(name, caller, err)
	}
	var out *model.Policy
	err = e.run(ctx, name, caller, func(o *op) error {
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
		premium, err := policy.Renew(ag, product, pol, caller, periodDays, rep, o.st.At)
		if err != nil {
			return err
		}
		pol.LastSeq = o.st.Seq
		if err := o.transfer(model.Transfer{
			From:   pol.Owner,
			To:     model.VaultAccount,
			Amount: premium,
			Memo:   "renewal " + pol.ID,
		}); err != nil {
			return err
		}
		o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
		o.save(model.KindProduct, product.ID, "", product)
		o.with(zap.String("policy_id", pol.ID), zap.Uint64("premium", premium))
		out = pol
		return o.emit(model.EventPolicyRenewed, model.KindPolicy, pol.ID, pol)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancellation is the result of Cancel.
type Cancellation struct {
	Policy *model.Policy `json:"policy"`
	Refund uint64        `json:"refund"`
}

// Cancel ends an active policy at the request of its owner or an admin and
// refunds the owner from the vault.
func (e *Engine) Cancel(ctx context.Context, cred auth.Credential, policyID string) (*Cancellation, error) {
	const name = "cancel"
	caller, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	admin := e.isAdmin(ctx, caller)
	var out *Cancellation
	err = e.run(ctx, name, caller, func(o *op) error {
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
		refund, err := policy.Cancel(ag, product, pol, caller, admin, o.st.At)
		if err != nil {
			return err
		}
		pol.LastSeq = o.st.Seq
		if err := o.transfer(model.Transfer{
			From:   model.VaultAccount,
			To:     pol.Owner,
			Amount: refund,
			Memo:   "refund " + pol.ID,
		}); err != nil {
			return err
		}
		o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
		o.save(model.KindProduct, product.ID, "", product)
		o.archive(model.KindPolicy, pol.ID, pol)
		o.with(zap.String("policy_id", pol.ID), zap.Uint64("refund", refund))
		out = &Cancellation{Policy: pol, Refund: refund}
		return o.emit(model.EventPolicyCancelled, model.KindPolicy, pol.ID, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
