package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/calibrator"
	"github.com/sells-group/shield/internal/claims"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/policy"
	"github.com/sells-group/shield/internal/reputation"
	"github.com/sells-group/shield/internal/store"
)

// Risk weights are x10 multipliers and must stay within these bounds.
const (
	minRiskWeight = 1
	maxRiskWeight = 50
)

// ValidateParams checks program parameters for internal consistency.
func ValidateParams(p *model.ProgramParams) error {
	switch {
	case p.MinCoverage == 0 || p.MinCoverage > p.MaxCoverage:
		return fault.ErrInvalidParameter.With("coverage bounds [%d, %d] are invalid", p.MinCoverage, p.MaxCoverage)
	case p.MinPeriodDays == 0 || p.MinPeriodDays > p.MaxPeriodDays:
		return fault.ErrInvalidParameter.With("period bounds [%d, %d] are invalid", p.MinPeriodDays, p.MaxPeriodDays)
	case p.TargetReserveRatio == 0:
		return fault.ErrInvalidParameter.With("target reserve ratio must be positive")
	case p.MinVotesRequired == 0:
		return fault.ErrInvalidParameter.With("min votes required must be positive")
	case p.MinVotesRequired*2 > model.MaxVotes:
		return fault.ErrInvalidParameter.With("min votes %d leave no room for arbitration within %d votes", p.MinVotesRequired, model.MaxVotes)
	case p.VotingPeriodDays == 0:
		return fault.ErrInvalidParameter.With("voting period must be positive")
	case p.AutoProcessThreshold > 100 || p.ArbitrationThreshold > 100 || p.RiskBufferPercentage > 100:
		return fault.ErrInvalidParameter.With("thresholds and buffers are percentages")
	case p.StakingAllocation+p.TreasuryAllocation != 100:
		return fault.ErrInvalidAllocationPercentages.With("staking %d + treasury %d must equal 100", p.StakingAllocation, p.TreasuryAllocation)
	}
	for i, w := range p.JobTypeWeights {
		if w < minRiskWeight || w > maxRiskWeight {
			return fault.ErrInvalidParameter.With("job type weight %s=%d outside [%d, %d]", model.JobTypes[i], w, minRiskWeight, maxRiskWeight)
		}
	}
	for i, w := range p.IndustryWeights {
		if w < minRiskWeight || w > maxRiskWeight {
			return fault.ErrInvalidParameter.With("industry weight %s=%d outside [%d, %d]", model.Industries[i], w, minRiskWeight, maxRiskWeight)
		}
	}
	return nil
}

// InitializeProgram creates the program, its risk pool and the calibrator.
// The caller becomes the program authority.
func (e *Engine) InitializeProgram(ctx context.Context, cred auth.Credential, params model.ProgramParams, features model.FeatureFlags) (*model.ProgramState, error) {
	const name = "initialize_program"
	authority, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.ProgramState
	err = e.run(ctx, name, authority, func(o *op) error {
		if _, err := o.aggregates(); err == nil {
			return fault.ErrAlreadyInitialized
		} else if !errors.Is(err, fault.ErrNotInitialized) {
			return err
		}
		if err := ValidateParams(&params); err != nil {
			return err
		}
		now := o.st.At
		cal := &model.BayesianParameters{}
		calibrator.Initialize(cal, now)
		o.ag = &model.Aggregates{
			Program: &model.ProgramState{
				Authority:            authority,
				Params:               params,
				Features:             features,
				PremiumToClaimsRatio: 100,
				CreatedAt:            now,
				LastUpdate:           now,
			},
			Pool:       ledger.NewPool(params, now),
			Calibrator: cal,
		}
		out = o.ag.Program
		return o.emit(model.EventProgramInitialized, model.KindProgram, model.SingletonID, o.ag.Program)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProgramUpdate carries optional program changes. Nil fields are untouched.
type ProgramUpdate struct {
	Params   *model.ProgramParams `json:"params,omitempty"`
	Features *model.FeatureFlags  `json:"features,omitempty"`
	Paused   *bool                `json:"paused,omitempty"`
}

// UpdateProgram replaces parameters, feature flags or the pause switch.
// New reserve and allocation parameters carry over to the pool.
func (e *Engine) UpdateProgram(ctx context.Context, cred auth.Credential, u ProgramUpdate) (*model.ProgramState, error) {
	const name = "update_program"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.ProgramState
	err = e.run(ctx, name, actor, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		if u.Params != nil {
			if err := ValidateParams(u.Params); err != nil {
				return err
			}
			pool := *ag.Pool
			if err := ledger.SetAllocations(&pool, u.Params.StakingAllocation, u.Params.TreasuryAllocation); err != nil {
				return err
			}
			pool.TargetReserveRatio = u.Params.TargetReserveRatio
			pool.MaxAutoApprove = u.Params.MaxAutoApprove
			*ag.Pool = pool
			ag.Program.Params = *u.Params
		}
		if u.Features != nil {
			ag.Program.Features = *u.Features
		}
		if u.Paused != nil {
			ag.Program.Paused = *u.Paused
		}
		ag.Program.LastUpdate = o.st.At
		out = ag.Program
		o.with(zap.Bool("paused", ag.Program.Paused))
		return o.emit(model.EventProgramUpdated, model.KindProgram, model.SingletonID, ag.Program)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PausePool stops or resumes capital deposits and withdrawals.
func (e *Engine) PausePool(ctx context.Context, cred auth.Credential, paused bool) (*model.RiskPool, error) {
	const name = "pause_pool"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.RiskPool
	err = e.run(ctx, name, actor, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		ag.Pool.Paused = paused
		ag.Pool.LastUpdate = o.st.At
		out = ag.Pool
		o.with(zap.Bool("paused", paused))
		return o.emit(model.EventMetricsUpdated, model.KindPool, model.SingletonID, ag.Pool)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateProduct(p *model.Product) error {
	switch {
	case p.Name == "" || len(p.Name) > model.MaxNameLength:
		return fault.ErrInvalidProduct.With("name must be 1-%d characters", model.MaxNameLength)
	case len(p.Description) > model.MaxDescriptionLength:
		return fault.ErrInvalidProduct.With("description exceeds %d characters", model.MaxDescriptionLength)
	case !p.Type.Valid():
		return fault.ErrInvalidEnum.With("unknown product type %q", p.Type)
	case p.RiskFactor > 100:
		return fault.ErrInvalidProduct.With("risk factor %d exceeds 100", p.RiskFactor)
	case p.PremiumMultiplier == 0:
		return fault.ErrInvalidProduct.With("premium multiplier must be positive")
	case p.MinCoverage > p.MaxCoverage:
		return fault.ErrInvalidProduct.With("min coverage %d exceeds max %d", p.MinCoverage, p.MaxCoverage)
	case p.MinPeriodDays > p.MaxPeriodDays:
		return fault.ErrInvalidProduct.With("min period %d exceeds max %d", p.MinPeriodDays, p.MaxPeriodDays)
	}
	return nil
}

// CreateProduct adds an active product. Zero bounds inherit the program's,
// an empty type means general.
func (e *Engine) CreateProduct(ctx context.Context, cred auth.Credential, in model.ProductInput) (*model.Product, error) {
	const name = "create_product"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.Product
	err = e.run(ctx, name, actor, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		params := ag.Program.Params
		p := &model.Product{
			ID:                uuid.NewString(),
			Name:              in.Name,
			Description:       in.Description,
			Type:              in.Type,
			RiskFactor:        in.RiskFactor,
			PremiumMultiplier: in.PremiumMultiplier,
			BaseRate:          in.BaseRate,
			MinCoverage:       orDefault(in.MinCoverage, params.MinCoverage),
			MaxCoverage:       orDefault(in.MaxCoverage, params.MaxCoverage),
			MinPeriodDays:     orDefault(in.MinPeriodDays, params.MinPeriodDays),
			MaxPeriodDays:     orDefault(in.MaxPeriodDays, params.MaxPeriodDays),
			Active:            true,
			CreatedAt:         o.st.At,
			UpdatedAt:         o.st.At,
		}
		if p.Type == "" {
			p.Type = model.ProductGeneral
		}
		if err := validateProduct(p); err != nil {
			return err
		}
		ag.Program.TotalProducts++
		ag.Program.LastUpdate = o.st.At
		o.save(model.KindProduct, p.ID, "", p)
		o.with(zap.String("product_id", p.ID))
		out = p
		return o.emit(model.EventProductCreated, model.KindProduct, p.ID, p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

// UpdateProduct applies u to product id.
func (e *Engine) UpdateProduct(ctx context.Context, cred auth.Credential, id string, u model.ProductUpdate) (*model.Product, error) {
	return e.changeProduct(ctx, cred, "update_product", id, func(p *model.Product) {
		if u.Name != nil {
			p.Name = *u.Name
		}
		if u.Description != nil {
			p.Description = *u.Description
		}
		if u.RiskFactor != nil {
			p.RiskFactor = *u.RiskFactor
		}
		if u.PremiumMultiplier != nil {
			p.PremiumMultiplier = *u.PremiumMultiplier
		}
		if u.BaseRate != nil {
			p.BaseRate = *u.BaseRate
		}
		if u.MinCoverage != nil {
			p.MinCoverage = *u.MinCoverage
		}
		if u.MaxCoverage != nil {
			p.MaxCoverage = *u.MaxCoverage
		}
		if u.MinPeriodDays != nil {
			p.MinPeriodDays = *u.MinPeriodDays
		}
		if u.MaxPeriodDays != nil {
			p.MaxPeriodDays = *u.MaxPeriodDays
		}
	})
}

// SetProductActive activates or deactivates a product. Existing policies
// are unaffected; inactive products cannot be purchased or renewed.
func (e *Engine) SetProductActive(ctx context.Context, cred auth.Credential, id string, active bool) (*model.Product, error) {
	name := "deactivate_product"
	if active {
		name = "activate_product"
	}
	return e.changeProduct(ctx, cred, name, id, func(p *model.Product) { p.Active = active })
}

func (e *Engine) changeProduct(ctx context.Context, cred auth.Credential, name, id string, change func(*model.Product)) (*model.Product, error) {
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.Product
	err = e.run(ctx, name, actor, func(o *op) error {
		if _, err := o.aggregates(); err != nil {
			return err
		}
		p, err := o.product(id)
		if err != nil {
			return err
		}
		change(p)
		if err := validateProduct(p); err != nil {
			return err
		}
		p.UpdatedAt = o.st.At
		o.save(model.KindProduct, p.ID, "", p)
		o.with(zap.String("product_id", p.ID), zap.Bool("active", p.Active))
		out = p
		return o.emit(model.EventProductUpdated, model.KindProduct, p.ID, p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type funding struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Balance uint64 `json:"balance"`
}

// Fund credits account from outside the program and returns its new
// balance. It needs a transfer facility that keeps balances.
func (e *Engine) Fund(ctx context.Context, cred auth.Credential, account string, amount uint64) (uint64, error) {
	const name = "fund"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return 0, err
	}
	crediter, ok := e.transfers.(Crediter)
	if !ok {
		return 0, e.reject(name, actor, fault.ErrInvalidTransfer.With("transfer facility cannot credit accounts"))
	}
	var balance uint64
	err = e.run(ctx, name, actor, func(o *op) error {
		if err := crediter.Credit(o.ctx, o.tx, account, amount); err != nil {
			return err
		}
		var err error
		if balance, err = crediter.Balance(o.ctx, o.tx, account); err != nil {
			return err
		}
		o.with(zap.String("account", account), zap.Uint64("amount", amount))
		return o.emit(model.EventAccountFunded, model.KindAccount, account, funding{Account: account, Amount: amount, Balance: balance})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// UpdateMetrics recomputes the pool's derived ratios.
func (e *Engine) UpdateMetrics(ctx context.Context, cred auth.Credential) (*model.RiskPool, error) {
	const name = "update_metrics"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.RiskPool
	err = e.run(ctx, name, actor, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		pool := *ag.Pool
		if err := ledger.UpdateMetrics(&pool, o.st.At); err != nil {
			return err
		}
		*ag.Pool = pool
		ag.Program.TotalLiability = pool.TotalLiability
		ag.Program.PremiumToClaimsRatio = pool.PremiumToClaimsRatio
		ag.Program.LastUpdate = o.st.At
		out = ag.Pool
		o.with(zap.Uint64("reserve_ratio", pool.ReserveRatio))
		return o.emit(model.EventMetricsUpdated, model.KindPool, model.SingletonID, ag.Pool)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshCalibrator rescales the calibrator from observed claim frequency.
func (e *Engine) RefreshCalibrator(ctx context.Context, cred auth.Credential) (*model.BayesianParameters, error) {
	const name = "refresh_calibrator"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return nil, err
	}
	var out *model.BayesianParameters
	err = e.run(ctx, name, actor, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		cal := &model.BayesianParameters{}
		if ag.Calibrator != nil {
			*cal = *ag.Calibrator
		}
		if err := calibrator.Refresh(cal, o.st.At); err != nil {
			return err
		}
		ag.Calibrator = cal
		out = cal
		o.with(zap.Uint64("policies_processed", cal.PoliciesProcessed), zap.Uint64("claims_processed", cal.ClaimsProcessed))
		return o.emit(model.EventCalibratorRefresh, model.KindCalibrator, model.SingletonID, cal)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SweepResult counts the transitions made by ExpireDue.
type SweepResult struct {
	GracePeriod      int `json:"grace_period"`
	PoliciesExpired  int `json:"policies_expired"`
	ClaimsExpired    int `json:"claims_expired"`
	ClaimsArbitrated int `json:"claims_arbitrated"`
}

// Total is the number of records that changed.
func (r SweepResult) Total() int {
	return r.GracePeriod + r.PoliciesExpired + r.ClaimsExpired + r.ClaimsArbitrated
}

// ExpireDue closes voting on stale claims, then moves lapsed policies into
// their grace period or expiry. It commits nothing when nothing is due.
func (e *Engine) ExpireDue(ctx context.Context, cred auth.Credential) (SweepResult, error) {
	const name = "expire_due"
	actor, err := e.authorize(ctx, name, cred, auth.ActionAdmin)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	err = e.run(ctx, name, actor, func(o *op) error {
		res = SweepResult{}
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		now := o.st.At

		policies, err := store.List[model.Policy](o.ctx, o.tx, model.KindPolicy, "")
		if err != nil {
			return err
		}
		byID := make(map[string]*model.Policy, len(policies))
		for i := range policies {
			byID[policies[i].ID] = &policies[i]
		}

		all, err := store.List[model.Claim](o.ctx, o.tx, model.KindClaim, "")
		if err != nil {
			return err
		}
		for i := range all {
			c := &all[i]
			pol, ok := byID[c.PolicyID]
			if !ok || !claims.Stale(c, now) {
				continue
			}
			to, err := claims.Expire(ag, pol, c, o.st)
			if err != nil {
				return err
			}
			pol.LastSeq = o.st.Seq
			o.save(model.KindClaim, c.ID, c.PolicyID, c)
			o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
			if to == model.ClaimExpired {
				res.ClaimsExpired++
				o.archive(model.KindClaim, c.ID, c)
			} else {
				res.ClaimsArbitrated++
			}
			if err := o.emit(model.EventClaimExpired, model.KindClaim, c.ID, c); err != nil {
				return err
			}
		}

		products := make(map[string]*model.Product)
		for i := range policies {
			pol := &policies[i]
			if !policy.Due(&ag.Program.Params, pol, now) {
				continue
			}
			product, ok := products[pol.ProductID]
			if !ok {
				if product, err = o.product(pol.ProductID); err != nil {
					return err
				}
				products[pol.ProductID] = product
			}
			to, err := policy.Expire(ag, product, pol, now)
			if err != nil {
				return err
			}
			if to == "" {
				continue
			}
			pol.LastSeq = o.st.Seq
			o.save(model.KindPolicy, pol.ID, pol.Owner, pol)
			o.save(model.KindProduct, product.ID, "", product)
			typ := model.EventPolicyGrace
			if to == model.PolicyExpired {
				typ = model.EventPolicyExpired
				res.PoliciesExpired++
				o.archive(model.KindPolicy, pol.ID, pol)
				if pol.ClaimsCount == 0 {
					o.outcome(pol.Owner, reputation.SuccessfulTransaction)
				}
			} else {
				res.GracePeriod++
			}
			if err := o.emit(typ, model.KindPolicy, pol.ID, pol); err != nil {
				return err
			}
		}
		o.with(zap.Int("changed", res.Total()))
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	return res, nil
}
