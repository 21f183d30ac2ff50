package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/store"
)

type capitalMove struct {
	Provider *model.CapitalProvider `json:"provider"`
	Amount   uint64                 `json:"amount"`
	Capital  uint64                 `json:"total_capital"`
	Reserve  uint64                 `json:"reserve_ratio"`
}

// Deposit moves amount from the caller into the vault as pool capital.
func (e *Engine) Deposit(ctx context.Context, cred auth.Credential, amount uint64) (*model.CapitalProvider, error) {
	const name = "deposit"
	identity, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	var out *model.CapitalProvider
	err = e.run(ctx, name, identity, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		provider, err := store.Get[model.CapitalProvider](o.ctx, o.tx, model.KindProvider, identity)
		if errors.Is(err, store.ErrNotFound) {
			provider, err = &model.CapitalProvider{}, nil
		}
		if err != nil {
			return err
		}
		pool := *ag.Pool
		first, err := ledger.Deposit(&pool, provider, identity, amount, o.st.At)
		if err != nil {
			return err
		}
		if err := o.transfer(model.Transfer{
			From:   identity,
			To:     model.VaultAccount,
			Amount: amount,
			Memo:   "deposit",
		}); err != nil {
			return err
		}
		*ag.Pool = pool
		o.save(model.KindProvider, identity, "", provider)
		o.with(zap.Uint64("amount", amount), zap.Bool("first_deposit", first))
		out = provider
		return o.emit(model.EventCapitalDeposited, model.KindProvider, identity, capitalMove{
			Provider: provider, Amount: amount, Capital: pool.TotalCapital, Reserve: pool.ReserveRatio,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Withdraw returns amount of the caller's capital from the vault, provided
// the pool stays above its reserve floor.
func (e *Engine) Withdraw(ctx context.Context, cred auth.Credential, amount uint64) (*model.CapitalProvider, error) {
	const name = "withdraw"
	identity, err := e.authorize(ctx, name, cred, auth.ActionUse)
	if err != nil {
		return nil, err
	}
	var out *model.CapitalProvider
	err = e.run(ctx, name, identity, func(o *op) error {
		ag, err := o.aggregates()
		if err != nil {
			return err
		}
		provider, err := get[model.CapitalProvider](o.ctx, o.tx, model.KindProvider, identity, fault.ErrProviderNotFound)
		if err != nil {
			return err
		}
		pool := *ag.Pool
		if err := ledger.Withdraw(&pool, provider, amount, o.st.At); err != nil {
			return err
		}
		if err := o.transfer(model.Transfer{
			From:   model.VaultAccount,
			To:     identity,
			Amount: amount,
			Memo:   "withdrawal",
		}); err != nil {
			return err
		}
		*ag.Pool = pool
		o.save(model.KindProvider, identity, "", provider)
		o.with(zap.Uint64("amount", amount))
		out = provider
		return o.emit(model.EventCapitalWithdrawn, model.KindProvider, identity, capitalMove{
			Provider: provider, Amount: amount, Capital: pool.TotalCapital, Reserve: pool.ReserveRatio,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
