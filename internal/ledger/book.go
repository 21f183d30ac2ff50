package ledger

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/fixedpoint"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/store"
)

// Account is a balance held in the book.
type Account struct {
	ID      string `json:"id"`
	Balance uint64 `json:"balance"`
}

// Book moves value between accounts stored alongside the engine records,
// inside the caller's transaction.
type Book struct{}

// NewBook returns a Book.
func NewBook() *Book { return &Book{} }

func loadAccount(ctx context.Context, tx store.Tx, id string) (*Account, error) {
	acct, err := store.Get[Account](ctx, tx, model.KindAccount, id)
	if errors.Is(err, store.ErrNotFound) {
		return &Account{ID: id}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: load account %s", id)
	}
	return acct, nil
}

// Balance returns the balance of account, 0 if it has never been used.
func (b *Book) Balance(ctx context.Context, tx store.Tx, account string) (uint64, error) {
	acct, err := loadAccount(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Credit adds amount to account from outside the book.
func (b *Book) Credit(ctx context.Context, tx store.Tx, account string, amount uint64) error {
	if amount == 0 || account == "" {
		return fault.ErrInvalidTransfer.With("credit needs an account and a positive amount")
	}
	acct, err := loadAccount(ctx, tx, account)
	if err != nil {
		return err
	}
	if acct.Balance, err = fixedpoint.Add(acct.Balance, amount); err != nil {
		return err
	}
	return store.Put(ctx, tx, model.KindAccount, acct.ID, "", acct)
}

// Transfer moves t.Amount from t.From to t.To. A short source balance fails
// with ErrTransferFailed wrapping ErrInsufficientFunds.
func (b *Book) Transfer(ctx context.Context, tx store.Tx, t model.Transfer) error {
	if t.Amount == 0 {
		return nil
	}
	if t.From == "" || t.To == "" || t.From == t.To {
		return fault.ErrInvalidTransfer.With("transfer %q -> %q", t.From, t.To)
	}
	from, err := loadAccount(ctx, tx, t.From)
	if err != nil {
		return err
	}
	to, err := loadAccount(ctx, tx, t.To)
	if err != nil {
		return err
	}
	if from.Balance < t.Amount {
		return fault.ErrTransferFailed.Wrap(
			fault.ErrInsufficientFunds.With("%s holds %d, needs %d", t.From, from.Balance, t.Amount))
	}
	credited, err := fixedpoint.Add(to.Balance, t.Amount)
	if err != nil {
		return fault.ErrTransferFailed.Wrap(err)
	}
	from.Balance -= t.Amount
	to.Balance = credited

	if err := store.Put(ctx, tx, model.KindAccount, from.ID, "", from); err != nil {
		return err
	}
	return store.Put(ctx, tx, model.KindAccount, to.ID, "", to)
}
