package engine

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/risk"
	"github.com/sells-group/shield/internal/store"
)

// read runs fn in a read-only transaction.
func (e *Engine) read(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := e.store.Begin(ctx, false)
	if err != nil {
		return eris.Wrap(err, "engine: begin read")
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	return fn(tx)
}

func readProduct(ctx context.Context, tx store.Tx, id string) (*model.Product, error) {
	return get[model.Product](ctx, tx, model.KindProduct, id, fault.ErrProductNotFound)
}

// GetProgram returns the program state.
func (e *Engine) GetProgram(ctx context.Context) (*model.ProgramState, error) {
	var out *model.ProgramState
	err := e.read(ctx, func(tx store.Tx) error {
		ag, err := loadAggregates(ctx, tx)
		if err != nil {
			return err
		}
		out = ag.Program
		return nil
	})
	return out, err
}

// GetAggregates returns the program, pool and calibrator together.
func (e *Engine) GetAggregates(ctx context.Context) (*model.Aggregates, error) {
	var out *model.Aggregates
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = loadAggregates(ctx, tx)
		return err
	})
	return out, err
}

// GetPool returns the risk pool.
func (e *Engine) GetPool(ctx context.Context) (*model.RiskPool, error) {
	ag, err := e.GetAggregates(ctx)
	if err != nil {
		return nil, err
	}
	return ag.Pool, nil
}

// GetProduct returns product id.
func (e *Engine) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var out *model.Product
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = readProduct(ctx, tx, id)
		return err
	})
	return out, err
}

// ListProducts returns every product, optionally only the active ones.
func (e *Engine) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	var out []model.Product
	err := e.read(ctx, func(tx store.Tx) error {
		all, err := store.List[model.Product](ctx, tx, model.KindProduct, "")
		if err != nil {
			return err
		}
		out = make([]model.Product, 0, len(all))
		for _, p := range all {
			if !activeOnly || p.Active {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// GetPolicy returns policy id.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*model.Policy, error) {
	var out *model.Policy
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = get[model.Policy](ctx, tx, model.KindPolicy, id, fault.ErrPolicyNotFound)
		return err
	})
	return out, err
}

// ListPolicies returns the policies of owner, or all policies when owner
// is empty.
func (e *Engine) ListPolicies(ctx context.Context, owner string) ([]model.Policy, error) {
	var out []model.Policy
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = store.List[model.Policy](ctx, tx, model.KindPolicy, owner)
		return err
	})
	return out, err
}

// GetClaim returns claim id.
func (e *Engine) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	var out *model.Claim
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = get[model.Claim](ctx, tx, model.KindClaim, id, fault.ErrClaimNotFound)
		return err
	})
	return out, err
}

// ListClaims returns the claims of a policy in the policy's index order.
func (e *Engine) ListClaims(ctx context.Context, policyID string) ([]model.Claim, error) {
	var out []model.Claim
	err := e.read(ctx, func(tx store.Tx) error {
		pol, err := get[model.Policy](ctx, tx, model.KindPolicy, policyID, fault.ErrPolicyNotFound)
		if err != nil {
			return err
		}
		out = make([]model.Claim, 0, len(pol.ClaimIDs))
		for _, id := range pol.ClaimIDs {
			c, err := get[model.Claim](ctx, tx, model.KindClaim, id, fault.ErrClaimNotFound)
			if err != nil {
				return err
			}
			out = append(out, *c)
		}
		return nil
	})
	return out, err
}

// GetProvider returns the capital position of identity.
func (e *Engine) GetProvider(ctx context.Context, identity string) (*model.CapitalProvider, error) {
	var out *model.CapitalProvider
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = get[model.CapitalProvider](ctx, tx, model.KindProvider, identity, fault.ErrProviderNotFound)
		return err
	})
	return out, err
}

// Balance returns the book balance of account. It fails when the transfer
// facility keeps no balances.
func (e *Engine) Balance(ctx context.Context, account string) (uint64, error) {
	crediter, ok := e.transfers.(Crediter)
	if !ok {
		return 0, fault.ErrInvalidTransfer.With("transfer facility keeps no balances")
	}
	var out uint64
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = crediter.Balance(ctx, tx, account)
		return err
	})
	return out, err
}

// Events returns up to limit events after sequence after.
func (e *Engine) Events(ctx context.Context, after uint64, limit int) ([]model.Event, error) {
	var out []model.Event
	err := e.read(ctx, func(tx store.Tx) (err error) {
		out, err = tx.Events(ctx, after, limit)
		return err
	})
	return out, err
}

// Simulate runs a solvency scenario. Zero premiums or capital are filled
// from the live pool when the program is initialized.
func (e *Engine) Simulate(ctx context.Context, in risk.SimulationInput) (risk.SimulationResult, error) {
	if in.TotalPremiums == 0 || in.AvailableCapital == 0 {
		pool, err := e.GetPool(ctx)
		switch {
		case err == nil:
			if in.TotalPremiums == 0 {
				in.TotalPremiums = pool.TotalPremiums
			}
			if in.AvailableCapital == 0 {
				in.AvailableCapital = pool.TotalCapital
			}
		case !errors.Is(err, fault.ErrNotInitialized):
			return risk.SimulationResult{}, err
		}
	}
	return risk.Simulate(in)
}
