package engine

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shield/internal/archive"
	"github.com/sells-group/shield/internal/audit"
	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/events"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/policy"
	"github.com/sells-group/shield/internal/reputation"
	"github.com/sells-group/shield/internal/risk"
	"github.com/sells-group/shield/internal/store"
)

const (
	admin   = "admin"
	arbiter = "arbiter"
	alice   = "alice"
	bob     = "bob"
	lp      = "lp"

	start int64 = 1_700_000_000
	day         = model.SecondsPerDay
)

type harness struct {
	eng    *Engine
	store  store.Store
	clock  *FixedClock
	broker *events.Broker
	rep    *reputation.Native
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	dir := t.TempDir()
	arch, err := archive.NewFS(dir)
	require.NoError(t, err)

	h := &harness{
		store:  st,
		clock:  NewFixedClock(start),
		broker: events.NewBroker(),
		rep:    reputation.NewNative(st),
		dir:    dir,
	}
	h.eng, err = New(Deps{
		Store:      st,
		Clock:      h.clock,
		Auth:       auth.NewTrusted(auth.Roles{Admins: []string{admin}, Arbitrators: []string{arbiter}}),
		Reputation: h.rep,
		Archive:    arch,
		Events:     h.broker,
	})
	require.NoError(t, err)
	return h
}

func as(identity string) auth.Credential {
	return auth.Credential{Identity: identity}
}

func (h *harness) initialize(t *testing.T) {
	t.Helper()
	_, err := h.eng.InitializeProgram(context.Background(), as(admin), model.DefaultProgramParams(), model.FeatureFlags{})
	require.NoError(t, err)
}

func (h *harness) product(t *testing.T) *model.Product {
	t.Helper()
	p, err := h.eng.CreateProduct(context.Background(), as(admin), model.ProductInput{
		Name:              "Freelance Shield",
		Description:       "Non-payment and contract breach cover",
		RiskFactor:        50,
		PremiumMultiplier: 100,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	_, err := h.eng.Fund(context.Background(), as(admin), account, amount)
	require.NoError(t, err)
}

func purchaseRequest(productID string) model.PurchaseRequest {
	return model.PurchaseRequest{
		ProductID:  productID,
		Coverage:   2_000_000,
		PeriodDays: 30,
		JobType:    model.JobSoftwareDevelopment,
		Industry:   model.IndustryTechnology,
	}
}

// insured sets up a funded pool and a policy owned by alice.
func (h *harness) insured(t *testing.T) (*model.Product, *model.Policy) {
	t.Helper()
	ctx := context.Background()
	h.initialize(t)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)
	h.fund(t, lp, 10_000_000)
	_, err := h.eng.Deposit(ctx, as(lp), 5_000_000)
	require.NoError(t, err)
	pol, err := h.eng.Purchase(ctx, as(alice), purchaseRequest(prod.ID))
	require.NoError(t, err)
	return prod, pol
}

func (h *harness) verifyChain(t *testing.T) audit.Result {
	t.Helper()
	res, err := audit.VerifyStore(context.Background(), h.store, 3)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	return res
}

func (h *harness) archived(kind, id string) bool {
	_, err := os.Stat(filepath.Join(h.dir, kind, id+".json"))
	return err == nil
}

func TestNew_RequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	t.Parallel()
	c := NewFixedClock(10)
	c.Advance(5)
	assert.Equal(t, int64(15), c.Now())
	c.Set(3)
	assert.Equal(t, int64(3), c.Now())
}

func TestInitializeProgram(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.InitializeProgram(ctx, as(alice), model.DefaultProgramParams(), model.FeatureFlags{})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)
	_, err = h.eng.InitializeProgram(ctx, as(""), model.DefaultProgramParams(), model.FeatureFlags{})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	prog, err := h.eng.InitializeProgram(ctx, as(admin), model.DefaultProgramParams(), model.FeatureFlags{UseEthosReputation: true})
	require.NoError(t, err)
	assert.Equal(t, admin, prog.Authority)
	assert.True(t, prog.Features.UseEthosReputation)

	_, err = h.eng.InitializeProgram(ctx, as(admin), model.DefaultProgramParams(), model.FeatureFlags{})
	assert.ErrorIs(t, err, fault.ErrAlreadyInitialized)

	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), pool.ReserveRatio)
	assert.Equal(t, uint64(model.DefaultTargetReserveRatio), pool.TargetReserveRatio)
	assert.Equal(t, uint64(70), pool.StakingAllocation)

	ag, err := h.eng.GetAggregates(ctx)
	require.NoError(t, err)
	require.NotNil(t, ag.Calibrator)

	evs, err := h.eng.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventProgramInitialized, evs[0].Type)
	assert.Equal(t, admin, evs[0].Actor)
}

func TestInitializeProgram_InvalidParams(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	params := model.DefaultProgramParams()
	params.JobTypeWeights[2] = 0
	_, err := h.eng.InitializeProgram(context.Background(), as(admin), params, model.FeatureFlags{})
	assert.ErrorIs(t, err, fault.ErrInvalidParameter)

	_, err = h.eng.GetProgram(context.Background())
	assert.ErrorIs(t, err, fault.ErrNotInitialized)
}

func TestOperationsRequireInitialization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.CreateProduct(ctx, as(admin), model.ProductInput{Name: "x", PremiumMultiplier: 100})
	assert.ErrorIs(t, err, fault.ErrNotInitialized)
	_, err = h.eng.Deposit(ctx, as(lp), 100)
	assert.ErrorIs(t, err, fault.ErrNotInitialized)
	assert.Equal(t, fault.KindState, fault.KindOf(err))
}

func TestValidateParams(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*model.ProgramParams)
		want   error
	}{
		{"defaults", func(*model.ProgramParams) {}, nil},
		{"coverage bounds", func(p *model.ProgramParams) { p.MinCoverage = p.MaxCoverage + 1 }, fault.ErrInvalidParameter},
		{"period bounds", func(p *model.ProgramParams) { p.MinPeriodDays = 0 }, fault.ErrInvalidParameter},
		{"no votes", func(p *model.ProgramParams) { p.MinVotesRequired = 0 }, fault.ErrInvalidParameter},
		{"too many votes", func(p *model.ProgramParams) { p.MinVotesRequired = 11 }, fault.ErrInvalidParameter},
		{"threshold", func(p *model.ProgramParams) { p.AutoProcessThreshold = 101 }, fault.ErrInvalidParameter},
		{"allocations", func(p *model.ProgramParams) { p.StakingAllocation = 60 }, fault.ErrInvalidAllocationPercentages},
		{"industry weight", func(p *model.ProgramParams) { p.IndustryWeights[0] = 51 }, fault.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := model.DefaultProgramParams()
			tt.mutate(&p)
			err := ValidateParams(&p)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateProgram(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)

	_, err := h.eng.UpdateProgram(ctx, as(alice), ProgramUpdate{})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	params := model.DefaultProgramParams()
	params.StakingAllocation, params.TreasuryAllocation = 60, 40
	params.TargetReserveRatio = 200
	paused := true
	prog, err := h.eng.UpdateProgram(ctx, as(admin), ProgramUpdate{Params: &params, Paused: &paused})
	require.NoError(t, err)
	assert.True(t, prog.Paused)

	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), pool.StakingAllocation)
	assert.Equal(t, uint64(200), pool.TargetReserveRatio)

	_, err = h.eng.Purchase(ctx, as(alice), purchaseRequest(prod.ID))
	assert.ErrorIs(t, err, fault.ErrProgramPaused)

	bad := model.DefaultProgramParams()
	bad.StakingAllocation = 90
	_, err = h.eng.UpdateProgram(ctx, as(admin), ProgramUpdate{Params: &bad})
	assert.ErrorIs(t, err, fault.ErrInvalidAllocationPercentages)

	pool, err = h.eng.PausePool(ctx, as(admin), true)
	require.NoError(t, err)
	assert.True(t, pool.Paused)
	_, err = h.eng.Deposit(ctx, as(alice), 10)
	assert.ErrorIs(t, err, fault.ErrRiskPoolPaused)
}

func TestCreateProduct_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.initialize(t)

	valid := model.ProductInput{Name: "Cover", RiskFactor: 50, PremiumMultiplier: 100}
	tests := []struct {
		name   string
		mutate func(*model.ProductInput)
		want   error
	}{
		{"empty name", func(in *model.ProductInput) { in.Name = "" }, fault.ErrInvalidProduct},
		{"long name", func(in *model.ProductInput) { in.Name = strings.Repeat("n", model.MaxNameLength+1) }, fault.ErrInvalidProduct},
		{"long description", func(in *model.ProductInput) { in.Description = strings.Repeat("d", model.MaxDescriptionLength+1) }, fault.ErrInvalidProduct},
		{"risk factor", func(in *model.ProductInput) { in.RiskFactor = 101 }, fault.ErrInvalidProduct},
		{"multiplier", func(in *model.ProductInput) { in.PremiumMultiplier = 0 }, fault.ErrInvalidProduct},
		{"coverage order", func(in *model.ProductInput) { in.MinCoverage, in.MaxCoverage = 500_000, 200_000 }, fault.ErrInvalidProduct},
		{"period order", func(in *model.ProductInput) { in.MinPeriodDays, in.MaxPeriodDays = 90, 60 }, fault.ErrInvalidProduct},
		{"type", func(in *model.ProductInput) { in.Type = "pets" }, fault.ErrInvalidEnum},
	}
	for _, tt := range tests {
		in := valid
		tt.mutate(&in)
		_, err := h.eng.CreateProduct(ctx, as(admin), in)
		assert.ErrorIs(t, err, tt.want, tt.name)
	}

	p, err := h.eng.CreateProduct(ctx, as(admin), valid)
	require.NoError(t, err)
	assert.Equal(t, model.ProductGeneral, p.Type)
	assert.True(t, p.Active)
	assert.Equal(t, uint64(model.DefaultMinCoverage), p.MinCoverage)
	assert.Equal(t, uint64(model.DefaultMaxPeriodDays), p.MaxPeriodDays)

	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prog.TotalProducts)
}

func TestUpdateAndDeactivateProduct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)

	name := "Renamed"
	tooRisky := uint64(150)
	_, err := h.eng.UpdateProduct(ctx, as(admin), prod.ID, model.ProductUpdate{RiskFactor: &tooRisky})
	assert.ErrorIs(t, err, fault.ErrInvalidProduct)

	updated, err := h.eng.UpdateProduct(ctx, as(admin), prod.ID, model.ProductUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, uint64(50), updated.RiskFactor)

	_, err = h.eng.UpdateProduct(ctx, as(admin), "missing", model.ProductUpdate{Name: &name})
	assert.ErrorIs(t, err, fault.ErrProductNotFound)

	_, err = h.eng.SetProductActive(ctx, as(admin), prod.ID, false)
	require.NoError(t, err)
	_, err = h.eng.Purchase(ctx, as(alice), purchaseRequest(prod.ID))
	assert.ErrorIs(t, err, fault.ErrProductNotActive)

	active, err := h.eng.ListProducts(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := h.eng.ListProducts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.Fund(ctx, as(alice), alice, 100)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	bal, err := h.eng.Fund(ctx, as(admin), alice, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)
	bal, err = h.eng.Fund(ctx, as(admin), alice, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), bal)

	_, err = h.eng.Fund(ctx, as(admin), alice, 0)
	assert.ErrorIs(t, err, fault.ErrInvalidTransfer)
}

func TestPurchase_MovesPremiumIntoVault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)

	quote, err := h.eng.Quote(ctx, as(alice), QuoteRequest{
		ProductID:  prod.ID,
		Coverage:   2_000_000,
		PeriodDays: 30,
		JobType:    model.JobSoftwareDevelopment,
		Industry:   model.IndustryTechnology,
	})
	require.NoError(t, err)

	sub, cancel := h.broker.Subscribe(8)
	defer cancel()

	pol, err := h.eng.Purchase(ctx, as(alice), purchaseRequest(prod.ID))
	require.NoError(t, err)
	assert.Equal(t, model.PolicyActive, pol.Status)
	assert.Equal(t, alice, pol.Owner)
	assert.Equal(t, quote.Premium.Amount, pol.Premium)
	assert.Equal(t, uint8(reputation.DefaultScore), pol.Reputation)
	assert.Equal(t, start+30*day, pol.EndDate)
	assert.NotZero(t, pol.CreatedSeq)
	require.Positive(t, pol.Premium)

	ev := <-sub
	assert.Equal(t, model.EventPolicyPurchased, ev.Type)
	assert.Equal(t, pol.ID, ev.EntityID)
	assert.Equal(t, pol.CreatedSeq, ev.Sequence)

	bal, err := h.eng.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000-pol.Premium, bal)
	vault, err := h.eng.Balance(ctx, model.VaultAccount)
	require.NoError(t, err)
	assert.Equal(t, pol.Premium, vault)

	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, vault, pool.TotalCapital)
	assert.Equal(t, uint64(2_000_000), pool.TotalLiability)

	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prog.TotalPolicies)
	assert.Equal(t, uint64(1), prog.ActivePolicies)

	mine, err := h.eng.ListPolicies(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	theirs, err := h.eng.ListPolicies(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	res := h.verifyChain(t)
	assert.Equal(t, 4, res.Records)
}

func TestPurchase_ExplicitReputation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)

	rep := uint8(90)
	req := purchaseRequest(prod.ID)
	req.Reputation = &rep
	pol, err := h.eng.Purchase(context.Background(), as(alice), req)
	require.NoError(t, err)
	assert.Equal(t, rep, pol.Reputation)
}

func TestPurchase_WithoutFundsChangesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)

	_, err := h.eng.Purchase(ctx, as(alice), purchaseRequest(prod.ID))
	require.ErrorIs(t, err, fault.ErrTransferFailed)
	assert.ErrorIs(t, err, fault.ErrInsufficientFunds)
	assert.Equal(t, fault.KindTransfer, fault.KindOf(err))

	pols, err := h.eng.ListPolicies(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pols)
	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Zero(t, prog.TotalPolicies)
	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Zero(t, pool.TotalLiability)

	evs, err := h.eng.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestPurchase_OutOfBounds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)

	req := purchaseRequest(prod.ID)
	req.Coverage = 50
	_, err := h.eng.Purchase(context.Background(), as(alice), req)
	assert.ErrorIs(t, err, fault.ErrInvalidCoverageAmount)

	req = purchaseRequest("missing")
	_, err = h.eng.Purchase(context.Background(), as(alice), req)
	assert.ErrorIs(t, err, fault.ErrProductNotFound)
}

func TestPurchase_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.initialize(t)
	prod := h.product(t)

	const n = 8
	for i := range n {
		h.fund(t, fmt.Sprintf("buyer-%d", i), 1_000_000)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.eng.Purchase(ctx, as(fmt.Sprintf("buyer-%d", i)), purchaseRequest(prod.ID))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), prog.TotalPolicies)
	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(n*2_000_000), pool.TotalLiability)

	res := h.verifyChain(t)
	assert.Equal(t, 2+n+n, res.Records)
	assert.Zero(t, res.Gaps)
}

func TestRenew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)
	end := pol.EndDate

	_, err := h.eng.Renew(ctx, as(bob), pol.ID, 30)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	renewed, err := h.eng.Renew(ctx, as(alice), pol.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, end, renewed.StartDate)
	assert.Equal(t, end+60*day, renewed.EndDate)
	assert.Equal(t, uint64(1), renewed.Renewals)
	assert.Greater(t, renewed.LastSeq, pol.LastSeq)

	bal, err := h.eng.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000-pol.Premium-renewed.Premium, bal)
}

func TestCancel_RefundsOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)
	h.clock.Advance(3 * day)

	_, err := h.eng.Cancel(ctx, as(bob), pol.ID)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	want, err := policy.Refund(pol.Premium, pol.StartDate, pol.EndDate, h.clock.Now())
	require.NoError(t, err)
	require.Positive(t, want)

	res, err := h.eng.Cancel(ctx, as(alice), pol.ID)
	require.NoError(t, err)
	assert.Equal(t, want, res.Refund)
	assert.Equal(t, model.PolicyCancelled, res.Policy.Status)

	bal, err := h.eng.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000-pol.Premium+want, bal)

	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Zero(t, pool.TotalLiability)
	vault, err := h.eng.Balance(ctx, model.VaultAccount)
	require.NoError(t, err)
	assert.Equal(t, vault, pool.TotalCapital)

	assert.True(t, h.archived(model.KindPolicy, pol.ID))

	_, err = h.eng.Cancel(ctx, as(admin), pol.ID)
	assert.ErrorIs(t, err, fault.ErrPolicyNotActive)
}

func TestClaim_VotedAndPaid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	c, err := h.eng.SubmitClaim(ctx, as(alice), pol.ID, model.ClaimRequest{
		Amount:         1_500_000,
		EvidenceType:   "invoice",
		EvidenceHashes: []string{"QmInvoice"},
		Category:       model.CategoryNonPayment,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimPendingVote, c.Status)
	assert.Equal(t, 0, c.Index)

	_, err = h.eng.SubmitClaim(ctx, as(bob), pol.ID, model.ClaimRequest{Amount: 30_000})
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = h.eng.Vote(ctx, as(alice), c.ID, true, "mine")
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = h.eng.Vote(ctx, as("v1"), c.ID, true, "invoice is clear")
	require.NoError(t, err)
	_, err = h.eng.Vote(ctx, as("v1"), c.ID, true, "again")
	assert.ErrorIs(t, err, fault.ErrAlreadyVoted)
	_, err = h.eng.Vote(ctx, as("v2"), c.ID, true, "")
	require.NoError(t, err)
	c, err = h.eng.Vote(ctx, as("v3"), c.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, c.Status)
	require.NotNil(t, c.Verdict)
	assert.Equal(t, model.ProcessorCommunity, c.Verdict.Processor)
	require.Len(t, c.Votes, 3)
	assert.Less(t, c.Votes[0].Sequence, c.Votes[2].Sequence)

	_, err = h.eng.PayClaim(ctx, as(bob), c.ID)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	before, err := h.eng.Balance(ctx, alice)
	require.NoError(t, err)
	paid, err := h.eng.PayClaim(ctx, as(alice), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimPaid, paid.Status)

	after, err := h.eng.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, before+1_500_000, after)

	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyClaimPaid, got.Status)

	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000), pool.TotalClaimsPaid)
	assert.Zero(t, pool.TotalLiability)
	vault, err := h.eng.Balance(ctx, model.VaultAccount)
	require.NoError(t, err)
	assert.Equal(t, vault, pool.TotalCapital)

	_, err = h.eng.PayClaim(ctx, as(alice), c.ID)
	assert.ErrorIs(t, err, fault.ErrClaimNotApproved)

	list, err := h.eng.ListClaims(ctx, pol.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	assert.True(t, h.archived(model.KindClaim, c.ID))
	assert.True(t, h.archived(model.KindPolicy, pol.ID))

	profile, err := h.rep.Profile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), profile.ClaimsApproved)

	h.verifyChain(t)
}

func TestClaim_RejectedDisputedArbitrated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	c, err := h.eng.SubmitClaim(ctx, as(alice), pol.ID, model.ClaimRequest{Amount: 1_500_000, Category: model.CategoryContractBreach})
	require.NoError(t, err)
	for _, v := range []string{"v1", "v2", "v3"} {
		c, err = h.eng.Vote(ctx, as(v), c.ID, false, "not covered")
		require.NoError(t, err)
	}
	assert.Equal(t, model.ClaimRejected, c.Status)

	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyClaimRejected, got.Status)

	_, err = h.eng.Arbitrate(ctx, as(arbiter), c.ID, true, "early")
	assert.ErrorIs(t, err, fault.ErrClaimNotInArbitration)

	_, err = h.eng.Dispute(ctx, as(bob), c.ID, "not mine", nil)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)
	c, err = h.eng.Dispute(ctx, as(alice), c.ID, "contract attached", []string{"QmContract"})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimDisputed, c.Status)
	assert.Contains(t, c.EvidenceHashes, "QmContract")

	_, err = h.eng.Arbitrate(ctx, as(alice), c.ID, true, "self")
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	c, err = h.eng.Arbitrate(ctx, as(arbiter), c.ID, true, "contract shows breach")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, c.Status)
	assert.Equal(t, model.ProcessorArbitration, c.Verdict.Processor)

	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prog.ArbitratedClaims)

	profile, err := h.rep.Profile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), profile.ClaimsRejected)
	assert.Equal(t, uint32(1), profile.Disputes)
	assert.Zero(t, profile.DisputesAtFault)

	_, err = h.eng.PayClaim(ctx, as(admin), c.ID)
	require.NoError(t, err)
}

// arbitratedRejection splits the vote on alice's claim and has the
// arbitrator reject it, which returns her policy to active.
func (h *harness) arbitratedRejection(t *testing.T, pol *model.Policy) *model.Claim {
	t.Helper()
	ctx := context.Background()
	c, err := h.eng.SubmitClaim(ctx, as(alice), pol.ID, model.ClaimRequest{Amount: 1_500_000, Category: model.CategoryNonPayment})
	require.NoError(t, err)
	for i, approve := range []bool{true, false, true, false, true, false} {
		c, err = h.eng.Vote(ctx, as(fmt.Sprintf("v%d", i)), c.ID, approve, "")
		require.NoError(t, err)
	}
	require.Equal(t, model.ClaimInArbitration, c.Status)
	c, err = h.eng.Arbitrate(ctx, as(arbiter), c.ID, false, "loss not shown")
	require.NoError(t, err)
	require.Equal(t, model.ClaimRejected, c.Status)
	return c
}

func TestDispute_CancelledPolicyStaysClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	prod, pol := h.insured(t)
	h.fund(t, bob, 1_000_000)
	bobs, err := h.eng.Purchase(ctx, as(bob), purchaseRequest(prod.ID))
	require.NoError(t, err)

	c := h.arbitratedRejection(t, pol)
	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	require.Equal(t, model.PolicyActive, got.Status)

	_, err = h.eng.Cancel(ctx, as(alice), pol.ID)
	require.NoError(t, err)

	_, err = h.eng.Dispute(ctx, as(alice), c.ID, "appeal after cancelling", nil)
	assert.ErrorIs(t, err, fault.ErrPolicyNotActive)
	_, err = h.eng.PayClaim(ctx, as(admin), c.ID)
	assert.ErrorIs(t, err, fault.ErrClaimNotApproved)

	got, err = h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyCancelled, got.Status)
	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, bobs.Coverage, pool.TotalLiability)
	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), prog.ActivePolicies)
	assert.Zero(t, prog.TotalClaimsPaid)
}

func TestDispute_ExpiredPolicyStaysClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	params := model.DefaultProgramParams()
	params.GracePeriodDays = 0
	_, err := h.eng.InitializeProgram(ctx, as(admin), params, model.FeatureFlags{})
	require.NoError(t, err)
	prod := h.product(t)
	h.fund(t, alice, 1_000_000)
	h.fund(t, lp, 10_000_000)
	_, err = h.eng.Deposit(ctx, as(lp), 5_000_000)
	require.NoError(t, err)
	pol, err := h.eng.Purchase(ctx, as(alice), purchaseRequest(prod.ID))
	require.NoError(t, err)

	h.clock.Set(pol.EndDate - day)
	c, err := h.eng.SubmitClaim(ctx, as(alice), pol.ID, model.ClaimRequest{Amount: 1_500_000})
	require.NoError(t, err)
	for _, v := range []string{"v1", "v2", "v3"} {
		c, err = h.eng.Vote(ctx, as(v), c.ID, false, "")
		require.NoError(t, err)
	}
	require.Equal(t, model.ClaimRejected, c.Status)

	// Two days after the verdict: the dispute window is open but the
	// policy has expired and released its coverage.
	h.clock.Set(pol.EndDate + day)
	res, err := h.eng.ExpireDue(ctx, as(admin))
	require.NoError(t, err)
	require.Equal(t, 1, res.PoliciesExpired)

	_, err = h.eng.Dispute(ctx, as(alice), c.ID, "appeal after expiry", nil)
	assert.ErrorIs(t, err, fault.ErrPolicyNotActive)
	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyExpired, got.Status)
}

func TestDispute_AtMostOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	c := h.arbitratedRejection(t, pol)
	c, err := h.eng.Dispute(ctx, as(alice), c.ID, "first appeal", nil)
	require.NoError(t, err)
	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyClaimPending, got.Status)

	_, err = h.eng.Cancel(ctx, as(alice), pol.ID)
	assert.ErrorIs(t, err, fault.ErrPolicyNotActive)

	c, err = h.eng.Arbitrate(ctx, as(arbiter), c.ID, false, "rejection stands")
	require.NoError(t, err)
	_, err = h.eng.Dispute(ctx, as(alice), c.ID, "second appeal", nil)
	assert.ErrorIs(t, err, fault.ErrAlreadyDisputed)
}

func TestExpireClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	c, err := h.eng.SubmitClaim(ctx, as(alice), pol.ID, model.ClaimRequest{Amount: 1_500_000})
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOther, c.Category)

	_, err = h.eng.ExpireClaim(ctx, as(bob), c.ID)
	assert.ErrorIs(t, err, fault.ErrClaimNotExpirable)

	h.clock.Advance(8 * day)
	c, err = h.eng.ExpireClaim(ctx, as(bob), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimExpired, c.Status)
	assert.True(t, h.archived(model.KindClaim, c.ID))

	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyActive, got.Status)

	_, err = h.eng.GetClaim(ctx, "missing")
	assert.ErrorIs(t, err, fault.ErrClaimNotFound)
}

func TestExpireDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	_, err := h.eng.ExpireDue(ctx, as(alice))
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	res, err := h.eng.ExpireDue(ctx, as(admin))
	require.NoError(t, err)
	assert.Zero(t, res.Total())
	before, err := h.eng.Events(ctx, 0, 0)
	require.NoError(t, err)

	h.clock.Set(pol.EndDate + day)
	res, err = h.eng.ExpireDue(ctx, as(admin))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{GracePeriod: 1}, res)
	got, err := h.eng.GetPolicy(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyGracePeriod, got.Status)

	h.clock.Set(pol.EndDate + 8*day)
	res, err = h.eng.ExpireDue(ctx, as(admin))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{PoliciesExpired: 1}, res)

	prog, err := h.eng.GetProgram(ctx)
	require.NoError(t, err)
	assert.Zero(t, prog.ActivePolicies)
	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Zero(t, pool.TotalLiability)
	assert.True(t, h.archived(model.KindPolicy, pol.ID))

	after, err := h.eng.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+2)

	profile, err := h.rep.Profile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), profile.Transactions)
}

func TestExpireDue_StaleClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	c, err := h.eng.SubmitClaim(ctx, as(alice), pol.ID, model.ClaimRequest{Amount: 1_500_000})
	require.NoError(t, err)

	h.clock.Advance(8 * day)
	res, err := h.eng.ExpireDue(ctx, as(admin))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ClaimsExpired)

	got, err := h.eng.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimExpired, got.Status)
	h.verifyChain(t)
}

func TestDepositWithdraw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, pol := h.insured(t)

	prov, err := h.eng.GetProvider(ctx, lp)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), prov.Deposited)

	pool, err := h.eng.GetPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000)+pol.Premium, pool.TotalCapital)
	assert.Equal(t, uint64(1), pool.ProviderCount)

	_, err = h.eng.Withdraw(ctx, as(lp), 2_500_000)
	assert.ErrorIs(t, err, fault.ErrWithdrawalExceedsAvailableCapital)
	assert.Equal(t, fault.KindSolvency, fault.KindOf(err))

	prov, err = h.eng.Withdraw(ctx, as(lp), 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000_000), prov.Deposited)

	bal, err := h.eng.Balance(ctx, lp)
	require.NoError(t, err)
	assert.Equal(t, uint64(6_000_000), bal)

	_, err = h.eng.Withdraw(ctx, as(bob), 1)
	assert.ErrorIs(t, err, fault.ErrProviderNotFound)
	_, err = h.eng.Deposit(ctx, as(lp), 0)
	assert.ErrorIs(t, err, fault.ErrInvalidDepositAmount)
}

func TestMaintenance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.insured(t)

	pool, err := h.eng.UpdateMetrics(ctx, as(admin))
	require.NoError(t, err)
	assert.Equal(t, pool.TotalCapital*100/pool.TotalLiability, pool.ReserveRatio)

	_, err = h.eng.RefreshCalibrator(ctx, as(alice))
	assert.ErrorIs(t, err, fault.ErrUnauthorized)
}

func TestSimulate_UsesPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	in := risk.SimulationInput{PolicyCount: 100, AverageSeverity: 10_000, ClaimFrequency: 5, AvailableCapital: 1}
	offline, err := h.eng.Simulate(ctx, in)
	require.NoError(t, err)

	_, pol := h.insured(t)
	live, err := h.eng.Simulate(ctx, risk.SimulationInput{PolicyCount: 100, AverageSeverity: 10_000, ClaimFrequency: 5})
	require.NoError(t, err)
	assert.Equal(t, offline.MinCapital, live.MinCapital)

	want, err := risk.Simulate(risk.SimulationInput{
		PolicyCount: 100, AverageSeverity: 10_000, ClaimFrequency: 5,
		TotalPremiums: pol.Premium, AvailableCapital: 5_000_000 + pol.Premium,
	})
	require.NoError(t, err)
	assert.Equal(t, want, live)
}

type walletKey struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newWalletKey(t *testing.T) walletKey {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return walletKey{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// as signs a fresh challenge for the address spelled as claimed.
func (w walletKey) as(t *testing.T, claimed string) auth.Credential {
	t.Helper()
	msg := auth.Challenge(claimed, time.Now())
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(msg)), w.key)
	require.NoError(t, err)
	return auth.Credential{Identity: claimed, Message: msg, Signature: hexutil.Encode(sig)}
}

func TestWalletIdentity_OneVotePerKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	root, owner, voter := newWalletKey(t), newWalletKey(t), newWalletKey(t)
	eng, err := New(Deps{
		Store: st,
		Clock: NewFixedClock(start),
		Auth:  auth.NewWallet(auth.Roles{Admins: []string{root.addr}}, time.Hour),
	})
	require.NoError(t, err)

	_, err = eng.InitializeProgram(ctx, root.as(t, root.addr), model.DefaultProgramParams(), model.FeatureFlags{})
	require.NoError(t, err)
	prod, err := eng.CreateProduct(ctx, root.as(t, root.addr), model.ProductInput{Name: "Freelance Shield", RiskFactor: 50, PremiumMultiplier: 100})
	require.NoError(t, err)
	_, err = eng.Fund(ctx, root.as(t, root.addr), owner.addr, 1_000_000)
	require.NoError(t, err)
	_, err = eng.Fund(ctx, root.as(t, root.addr), root.addr, 10_000_000)
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, root.as(t, root.addr), 5_000_000)
	require.NoError(t, err)

	// Signed in under the lowercase spelling, the policy is still owned by
	// the checksummed address.
	pol, err := eng.Purchase(ctx, owner.as(t, strings.ToLower(owner.addr)), purchaseRequest(prod.ID))
	require.NoError(t, err)
	assert.Equal(t, owner.addr, pol.Owner)

	c, err := eng.SubmitClaim(ctx, owner.as(t, owner.addr), pol.ID, model.ClaimRequest{Amount: 1_500_000})
	require.NoError(t, err)

	_, err = eng.Vote(ctx, owner.as(t, strings.ToLower(owner.addr)), c.ID, true, "")
	assert.ErrorIs(t, err, fault.ErrUnauthorized, "claimant may not vote under another spelling")

	c, err = eng.Vote(ctx, voter.as(t, voter.addr), c.ID, true, "")
	require.NoError(t, err)
	for _, spelling := range []string{strings.ToLower(voter.addr), "0x" + strings.ToUpper(voter.addr[2:])} {
		_, err = eng.Vote(ctx, voter.as(t, spelling), c.ID, true, "")
		assert.ErrorIs(t, err, fault.ErrAlreadyVoted, "voter spelled %s", spelling)
	}

	c, err = eng.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, c.Votes, 1)
	assert.Equal(t, voter.addr, c.Votes[0].Voter)
	assert.Equal(t, model.ClaimPendingVote, c.Status)
}
