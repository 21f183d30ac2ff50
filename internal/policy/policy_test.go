package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shield/internal/calibrator"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/model"
)

const day = model.SecondsPerDay

func fixture(t *testing.T) (*model.Aggregates, *model.Product) {
	t.Helper()
	params := model.DefaultProgramParams()
	cal := &model.BayesianParameters{}
	calibrator.Initialize(cal, 0)
	ag := &model.Aggregates{
		Program:    &model.ProgramState{Authority: "admin", Params: params},
		Pool:       ledger.NewPool(params, 0),
		Calibrator: cal,
	}
	product := &model.Product{
		ID:                "prod-1",
		Name:              "Freelance Basic",
		Type:              model.ProductGeneral,
		RiskFactor:        100,
		PremiumMultiplier: 100,
		MinCoverage:       100_000,
		MaxCoverage:       5_000_000,
		MinPeriodDays:     30,
		MaxPeriodDays:     365,
		Active:            true,
	}
	return ag, product
}

func request() model.PurchaseRequest {
	return model.PurchaseRequest{
		ProductID:  "prod-1",
		Coverage:   1_000_000,
		PeriodDays: 365,
		JobType:    model.JobSoftwareDevelopment,
		Industry:   model.IndustryTechnology,
	}
}

func purchase(t *testing.T, ag *model.Aggregates, product *model.Product) *model.Policy {
	t.Helper()
	pol, err := Purchase(ag, product, "pol-1", "alice", request(), 50, 0)
	require.NoError(t, err)
	return pol
}

func TestPrice(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	p, err := Price(ag, product, Terms{
		Coverage:   1_000_000,
		PeriodDays: 365,
		JobType:    model.JobSoftwareDevelopment,
		Industry:   model.IndustryTechnology,
		Reputation: 50,
	})
	require.NoError(t, err)
	// base 50000 * 0.90 weight * 0.85 reputation * 1.02 curve
	assert.Equal(t, uint64(39_015), p.Premium.Amount)
	assert.Equal(t, uint64(50_000), p.Premium.Components.Base)
	assert.Equal(t, uint64(calibrator.Neutral), p.Premium.Components.BayesianBps)
	assert.GreaterOrEqual(t, p.RiskScore, uint8(10))
	assert.LessOrEqual(t, p.RiskScore, uint8(100))
}

func TestPrice_FallsBackToProgramRate(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	terms := Terms{Coverage: 1_000_000, PeriodDays: 365, JobType: model.JobSoftwareDevelopment, Industry: model.IndustryTechnology, Reputation: 50}

	implicit, err := Price(ag, product, terms)
	require.NoError(t, err)

	product.BaseRate = model.DefaultBasePremiumRate * 2
	explicit, err := Price(ag, product, terms)
	require.NoError(t, err)
	assert.Equal(t, implicit.Premium.Amount*2, explicit.Premium.Amount)
}

func TestPurchase(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)

	assert.Equal(t, model.PolicyActive, pol.Status)
	assert.Equal(t, "alice", pol.Owner)
	assert.Equal(t, uint64(39_015), pol.Premium)
	assert.Equal(t, int64(365*day), pol.EndDate)
	assert.Equal(t, int64((365+30)*day), pol.ClaimPeriodEnd)

	assert.Equal(t, uint64(1), product.PoliciesIssued)
	assert.Equal(t, uint64(1), product.ActivePolicies)
	assert.Equal(t, uint64(1_000_000), product.TotalCoverage)
	assert.Equal(t, uint64(39_015), product.TotalPremiums)

	assert.Equal(t, uint64(1), ag.Program.TotalPolicies)
	assert.Equal(t, uint64(1), ag.Program.ActivePolicies)
	assert.Equal(t, uint64(1_000_000), ag.Program.TotalLiability)
	assert.Equal(t, uint64(39_015), ag.Program.TotalPremiums)

	assert.Equal(t, uint64(39_015), ag.Pool.TotalCapital)
	assert.Equal(t, uint64(1_000_000), ag.Pool.TotalLiability)
	assert.Equal(t, uint64(1), ag.Calibrator.PoliciesProcessed)
}

func TestPurchase_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*model.Aggregates, *model.Product, *model.PurchaseRequest)
		want   error
	}{
		{"paused", func(ag *model.Aggregates, _ *model.Product, _ *model.PurchaseRequest) { ag.Program.Paused = true }, fault.ErrProgramPaused},
		{"inactive product", func(_ *model.Aggregates, p *model.Product, _ *model.PurchaseRequest) { p.Active = false }, fault.ErrProductNotActive},
		{"coverage below product min", func(_ *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) { r.Coverage = 99_999 }, fault.ErrInvalidCoverageAmount},
		{"coverage above product max", func(_ *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) { r.Coverage = 5_000_001 }, fault.ErrInvalidCoverageAmount},
		{"coverage above program max", func(ag *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) {
			ag.Program.Params.MaxCoverage = 2_000_000
			r.Coverage = 3_000_000
		}, fault.ErrInvalidCoverageAmount},
		{"period too short", func(_ *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) { r.PeriodDays = 29 }, fault.ErrInvalidCoveragePeriod},
		{"period too long", func(_ *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) { r.PeriodDays = 366 }, fault.ErrInvalidCoveragePeriod},
		{"details too long", func(_ *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) {
			r.Details = strings.Repeat("x", model.MaxPolicyDetailsLength+1)
		}, fault.ErrInvalidPolicyDetails},
		{"unknown job", func(_ *model.Aggregates, _ *model.Product, r *model.PurchaseRequest) { r.JobType = "plumbing" }, fault.ErrInvalidEnum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ag, product := fixture(t)
			req := request()
			tt.mutate(ag, product, &req)

			_, err := Purchase(ag, product, "pol-1", "alice", req, 50, 0)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, product.PoliciesIssued)
			assert.Zero(t, ag.Pool.TotalLiability)
			assert.Zero(t, ag.Program.TotalPolicies)
		})
	}
}

func TestPurchase_DetailsAtLimit(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	req := request()
	req.Details = strings.Repeat("x", model.MaxPolicyDetailsLength)
	_, err := Purchase(ag, product, "pol-1", "alice", req, 50, 0)
	assert.NoError(t, err)
}

func TestRefund(t *testing.T) {
	t.Parallel()

	total := int64(100 * day)
	tests := []struct {
		now  int64
		want uint64
	}{
		{-5, 800_000},
		{0, 800_000},
		{10 * day, 720_000},
		{49 * day, 408_000},
		{50 * day, 0},
		{80 * day, 0},
	}
	for _, tt := range tests {
		got, err := Refund(1_000_000, 0, total, tt.now)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "now %d", tt.now)
	}
}

func TestRefund_DecreasesUntilHalfway(t *testing.T) {
	t.Parallel()

	const premium = 1_000_000_000
	total := int64(200 * day)
	prev, err := Refund(premium, 0, total, 0)
	require.NoError(t, err)
	for d := int64(1); d < 100; d++ {
		got, err := Refund(premium, 0, total, d*day)
		require.NoError(t, err)
		assert.Less(t, got, prev, "day %d", d)
		prev = got
	}
	got, err := Refund(premium, 0, total, 100*day)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)

	refund, err := Cancel(ag, product, pol, "alice", false, 10*day)
	require.NoError(t, err)
	// 39015 * 355/365 * 0.8
	assert.Equal(t, uint64(30_356), refund)
	assert.Equal(t, model.PolicyCancelled, pol.Status)
	assert.Equal(t, uint64(39_015-30_356), ag.Pool.TotalCapital)
	assert.Zero(t, ag.Pool.TotalLiability)
	assert.Zero(t, ag.Program.ActivePolicies)
	assert.Zero(t, ag.Program.TotalLiability)
	assert.Zero(t, product.ActivePolicies)
	assert.Zero(t, product.TotalCoverage)

	_, err = Cancel(ag, product, pol, "alice", false, 11*day)
	assert.ErrorIs(t, err, fault.ErrPolicyNotActive)
}

func TestCancel_Authorization(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)

	_, err := Cancel(ag, product, pol, "mallory", false, day)
	require.ErrorIs(t, err, fault.ErrUnauthorized)
	assert.Equal(t, model.PolicyActive, pol.Status)

	_, err = Cancel(ag, product, pol, "admin", true, day)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyCancelled, pol.Status)
}

func TestExpire_GraceThenExpired(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)

	status, err := Expire(ag, product, pol, pol.EndDate)
	require.NoError(t, err)
	assert.Empty(t, status)
	assert.False(t, Due(&ag.Program.Params, pol, pol.EndDate))

	require.True(t, Due(&ag.Program.Params, pol, pol.EndDate+1))
	status, err = Expire(ag, product, pol, pol.EndDate+1)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyGracePeriod, status)
	assert.Equal(t, uint64(1_000_000), ag.Pool.TotalLiability)
	assert.Equal(t, uint64(1), ag.Program.ActivePolicies)

	graceEnd := pol.EndDate + 7*day
	status, err = Expire(ag, product, pol, graceEnd)
	require.NoError(t, err)
	assert.Empty(t, status)

	status, err = Expire(ag, product, pol, graceEnd+1)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyExpired, status)
	assert.Zero(t, ag.Pool.TotalLiability)
	assert.Zero(t, ag.Program.ActivePolicies)
	assert.Zero(t, product.ActivePolicies)

	status, err = Expire(ag, product, pol, graceEnd+day)
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestExpire_NoGracePeriod(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	ag.Program.Params.GracePeriodDays = 0
	pol := purchase(t, ag, product)

	status, err := Expire(ag, product, pol, pol.EndDate+1)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyExpired, status)
}

func TestExpire_RejectedClaimPolicy(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)
	pol.Status = model.PolicyClaimRejected

	status, err := Expire(ag, product, pol, pol.EndDate+1)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyGracePeriod, status)
}

func TestRenew_Active(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)
	oldEnd := pol.EndDate

	premium, err := Renew(ag, product, pol, "alice", 365, 50, 100*day)
	require.NoError(t, err)
	assert.Equal(t, uint64(37_064), premium)
	assert.Equal(t, oldEnd, pol.StartDate)
	assert.Equal(t, oldEnd+365*day, pol.EndDate)
	assert.Equal(t, uint64(1), pol.Renewals)
	assert.Equal(t, model.PolicyActive, pol.Status)

	assert.Equal(t, uint64(39_015+37_064), ag.Pool.TotalCapital)
	assert.Equal(t, uint64(1_000_000), ag.Pool.TotalLiability)
	assert.Equal(t, uint64(1), ag.Program.ActivePolicies)
	assert.Equal(t, uint64(39_015+37_064), product.TotalPremiums)
}

func TestRenew_Expired(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)
	late := pol.EndDate + 30*day
	_, err := Expire(ag, product, pol, late)
	require.NoError(t, err)
	require.Equal(t, model.PolicyExpired, pol.Status)
	require.Zero(t, ag.Pool.TotalLiability)

	_, err = Renew(ag, product, pol, "alice", 90, 50, late)
	require.NoError(t, err)
	assert.Equal(t, late, pol.StartDate)
	assert.Equal(t, late+90*day, pol.EndDate)
	assert.Equal(t, uint64(90), pol.PeriodDays)
	assert.Equal(t, uint64(1_000_000), ag.Pool.TotalLiability)
	assert.Equal(t, uint64(1), ag.Program.ActivePolicies)
	assert.Equal(t, uint64(1), product.ActivePolicies)
}

func TestRenew_Rejections(t *testing.T) {
	t.Parallel()

	ag, product := fixture(t)
	pol := purchase(t, ag, product)

	_, err := Renew(ag, product, pol, "mallory", 365, 50, day)
	assert.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = Renew(ag, product, pol, "alice", 400, 50, day)
	assert.ErrorIs(t, err, fault.ErrInvalidCoveragePeriod)

	pol.Status = model.PolicyClaimPending
	_, err = Renew(ag, product, pol, "alice", 365, 50, day)
	assert.ErrorIs(t, err, fault.ErrPolicyNotRenewable)

	pol.Status = model.PolicyCancelled
	_, err = Renew(ag, product, pol, "alice", 365, 50, day)
	assert.ErrorIs(t, err, fault.ErrPolicyNotRenewable)
	assert.Zero(t, pol.Renewals)
}
