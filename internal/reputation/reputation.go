// Package reputation scores freelancers for pricing and records the
// outcomes of their policies and claims.
package reputation

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/store"
)

// Outcome is an event that moves a reputation profile.
type Outcome string

const (
	SuccessfulTransaction Outcome = "successful_transaction"
	DisputeAtFault        Outcome = "dispute_at_fault"
	DisputeNotAtFault     Outcome = "dispute_not_at_fault"
	ClaimApproved         Outcome = "claim_approved"
	ClaimRejected         Outcome = "claim_rejected"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case SuccessfulTransaction, DisputeAtFault, DisputeNotAtFault, ClaimApproved, ClaimRejected:
		return true
	}
	return false
}

// Provider scores identities on a 0-100 scale.
type Provider interface {
	Score(ctx context.Context, identity string) (uint8, error)
	RecordOutcome(ctx context.Context, identity string, o Outcome) error
}

// DefaultScore is the score of an identity with no history.
const DefaultScore = model.DefaultReputationScore

// Dimension weights in percent; they sum to 100.
const (
	CompletedWorkWeight     = 40
	DisputeResolutionWeight = 30
	ClaimHistoryWeight      = 30
)

// Each outcome moves its dimension 10% of the way toward 100 or 0.
const (
	keepPercent = 90
	movePercent = 10
)

// Profile is the stored reputation of one identity.
type Profile struct {
	Identity          string `json:"identity"`
	CompletedWork     uint8  `json:"completed_work"`
	DisputeResolution uint8  `json:"dispute_resolution"`
	ClaimHistory      uint8  `json:"claim_history"`
	Transactions      uint32 `json:"transactions"`
	Disputes          uint32 `json:"disputes"`
	DisputesAtFault   uint32 `json:"disputes_at_fault"`
	ClaimsApproved    uint32 `json:"claims_approved"`
	ClaimsRejected    uint32 `json:"claims_rejected"`
}

// NewProfile returns a neutral profile.
func NewProfile(identity string) *Profile {
	return &Profile{
		Identity:          identity,
		CompletedWork:     DefaultScore,
		DisputeResolution: DefaultScore,
		ClaimHistory:      DefaultScore,
	}
}

// Score is the weighted sum of the three dimensions.
func (p *Profile) Score() uint8 {
	sum := uint32(p.CompletedWork)*CompletedWorkWeight +
		uint32(p.DisputeResolution)*DisputeResolutionWeight +
		uint32(p.ClaimHistory)*ClaimHistoryWeight
	return uint8(sum / 100)
}

func toward(cur uint8, good bool) uint8 {
	target := uint32(0)
	if good {
		target = 100
	}
	return uint8((uint32(cur)*keepPercent + target*movePercent) / 100)
}

// Apply folds o into the profile.
func (p *Profile) Apply(o Outcome) {
	switch o {
	case SuccessfulTransaction:
		p.Transactions++
		p.CompletedWork = toward(p.CompletedWork, true)
	case DisputeAtFault:
		p.Disputes++
		p.DisputesAtFault++
		p.DisputeResolution = toward(p.DisputeResolution, false)
	case DisputeNotAtFault:
		p.Disputes++
		p.DisputeResolution = toward(p.DisputeResolution, true)
	case ClaimApproved:
		p.ClaimsApproved++
		p.ClaimHistory = toward(p.ClaimHistory, true)
	case ClaimRejected:
		p.ClaimsRejected++
		p.ClaimHistory = toward(p.ClaimHistory, false)
	}
}

// Native keeps profiles in the engine's document store. Each call opens
// its own transaction, so callers must not hold one on a single-writer
// store.
type Native struct {
	store store.Store
}

// NewNative returns a store-backed provider.
func NewNative(s store.Store) *Native {
	return &Native{store: s}
}

// Profile loads the profile of identity, or a neutral one.
func (n *Native) Profile(ctx context.Context, identity string) (*Profile, error) {
	tx, err := n.store.Begin(ctx, false)
	if err != nil {
		return nil, eris.Wrap(err, "reputation: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	return loadProfile(ctx, tx, identity)
}

func loadProfile(ctx context.Context, tx store.Tx, identity string) (*Profile, error) {
	p, err := store.Get[Profile](ctx, tx, model.KindReputation, identity)
	if errors.Is(err, store.ErrNotFound) {
		return NewProfile(identity), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "reputation: load %s", identity)
	}
	return p, nil
}

func (n *Native) Score(ctx context.Context, identity string) (uint8, error) {
	p, err := n.Profile(ctx, identity)
	if err != nil {
		return 0, err
	}
	return p.Score(), nil
}

func (n *Native) RecordOutcome(ctx context.Context, identity string, o Outcome) error {
	if !o.Valid() {
		return eris.Errorf("reputation: unknown outcome %q", o)
	}
	tx, err := n.store.Begin(ctx, true)
	if err != nil {
		return eris.Wrap(err, "reputation: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	p, err := loadProfile(ctx, tx, identity)
	if err != nil {
		return err
	}
	p.Apply(o)
	if err := store.Put(ctx, tx, model.KindReputation, identity, "", p); err != nil {
		return eris.Wrap(err, "reputation: save profile")
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "reputation: commit")
	}

	zap.L().Debug("reputation outcome recorded",
		zap.String("component", "reputation"),
		zap.String("identity", identity),
		zap.String("outcome", string(o)),
		zap.Uint8("score", p.Score()),
	)
	return nil
}
