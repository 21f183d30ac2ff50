package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shield/internal/fault"
)

func TestMinCapitalRequirement(t *testing.T) {
	t.Parallel()

	got, err := MinCapitalRequirement(100, 1000, 1, 20, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(144_000), got)

	_, err = MinCapitalRequirement(100, 1000, 1, 101, 20)
	assert.ErrorIs(t, err, fault.ErrInvalidRiskParameter)
	_, err = MinCapitalRequirement(100, 1000, 1, 20, 101)
	assert.ErrorIs(t, err, fault.ErrInvalidRiskParameter)
}

func TestSimulate(t *testing.T) {
	t.Parallel()

	res, err := Simulate(SimulationInput{
		PolicyCount:      100,
		AverageSeverity:  1000,
		ClaimFrequency:   1,
		MarketVolatility: 20,
		RiskBuffer:       20,
		TotalPremiums:    200_000,
		AvailableCapital: 200_000,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(144_000), res.MinCapital)
	assert.Equal(t, uint64(50), res.ExpectedLossRatio)
	assert.Equal(t, uint64(138), res.CapitalAdequacy)
	assert.Equal(t, uint64(172_800), res.TailRisk95)
	assert.Equal(t, uint64(216_000), res.TailRisk99)
	assert.Equal(t, int64(0), res.PremiumAdjustment)
	assert.Equal(t, uint64(16_000), res.CapitalShortfall)
	assert.True(t, res.Adequate)
}

func TestSimulate_Defaults(t *testing.T) {
	t.Parallel()

	res, err := Simulate(SimulationInput{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.MinCapital)
	assert.Equal(t, uint64(50), res.ExpectedLossRatio)
	assert.Equal(t, uint64(100), res.CapitalAdequacy)
	assert.True(t, res.Adequate)
}

func TestPremiumAdjustment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                          string
		adequacy, lossRatio, volatile uint64
		want                          int64
	}{
		{"capped high", 50, 95, 85, 30},
		{"capped low", 250, 20, 0, -20},
		{"mild decrease", 160, 35, 65, -5},
		{"moderate increase", 90, 75, 75, 20},
		{"neutral", 120, 50, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PremiumAdjustment(tt.adequacy, tt.lossRatio, tt.volatile))
		})
	}
}
