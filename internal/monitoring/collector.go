package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shield/internal/fixedpoint"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/store"
)

// SolvencySnapshot holds a point-in-time view of pool health.
type SolvencySnapshot struct {
	Initialized bool `json:"initialized"`
	PoolPaused  bool `json:"pool_paused"`

	// Capital position.
	TotalCapital         uint64 `json:"total_capital"`
	TotalLiability       uint64 `json:"total_liability"`
	ReserveRatio         uint64 `json:"reserve_ratio"`
	TargetReserveRatio   uint64 `json:"target_reserve_ratio"`
	BaseReserveRatio     uint64 `json:"base_reserve_ratio"`
	PremiumToClaimsRatio uint64 `json:"premium_to_claims_ratio"`
	// LossRatio is claims paid per 100 of premium collected.
	LossRatio     uint64 `json:"loss_ratio"`
	TotalPremiums uint64 `json:"total_premiums"`
	ClaimsPaid    uint64 `json:"claims_paid"`

	// Book of business.
	ActivePolicies    uint64 `json:"active_policies"`
	PendingClaims     int    `json:"pending_claims"`
	VotingClaims      int    `json:"voting_claims"`
	ArbitrationClaims int    `json:"arbitration_claims"`

	LastSequence uint64    `json:"last_sequence"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Collector reads solvency metrics straight from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot. An uninitialized program yields a snapshot
// with Initialized false and no error.
func (c *Collector) Collect(ctx context.Context) (*SolvencySnapshot, error) {
	snap := &SolvencySnapshot{CollectedAt: time.Now().UTC()}

	tx, err := c.store.Begin(ctx, false)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	last, err := tx.LastEvent(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last event")
	}
	if last != nil {
		snap.LastSequence = last.Sequence
	}

	prog, err := store.Get[model.ProgramState](ctx, tx, model.KindProgram, model.SingletonID)
	if errors.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load program")
	}
	pool, err := store.Get[model.RiskPool](ctx, tx, model.KindPool, model.SingletonID)
	if errors.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load pool")
	}

	snap.Initialized = true
	snap.PoolPaused = pool.Paused
	snap.TotalCapital = pool.TotalCapital
	snap.TotalLiability = pool.TotalLiability
	snap.ReserveRatio = pool.ReserveRatio
	snap.TargetReserveRatio = pool.TargetReserveRatio
	snap.BaseReserveRatio = prog.Params.BaseReserveRatio
	snap.PremiumToClaimsRatio = pool.PremiumToClaimsRatio
	snap.TotalPremiums = pool.TotalPremiums
	snap.ClaimsPaid = pool.TotalClaimsPaid
	snap.ActivePolicies = prog.ActivePolicies
	if snap.LossRatio, err = fixedpoint.Ratio(pool.TotalClaimsPaid, pool.TotalPremiums, 0); err != nil {
		return nil, err
	}

	claims, err := store.List[model.Claim](ctx, tx, model.KindClaim, "")
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list claims")
	}
	for _, cl := range claims {
		switch cl.Status {
		case model.ClaimPending:
			snap.PendingClaims++
		case model.ClaimPendingVote, model.ClaimUnderReview:
			snap.VotingClaims++
		case model.ClaimInArbitration, model.ClaimDisputed:
			snap.ArbitrationClaims++
		}
	}

	return snap, nil
}
