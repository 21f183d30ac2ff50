package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shield/internal/archive"
	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/config"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/lock"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/reputation"
	"github.com/sells-group/shield/internal/risk"
	"github.com/sells-group/shield/internal/transfer"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "shield.db")
	c.Auth.Mode = "trusted"
	c.Auth.Identity = "admin"
	c.Auth.Roles = auth.Roles{Admins: []string{"admin"}}
	c.Transfer.Driver = "book"
	c.Lock.Driver = "local"
	c.Archive.Driver = "nop"
	c.Program = model.DefaultProgramParams()
	return c
}

func TestPrintOfflineQuote_Golden(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, printOfflineQuote(&buf, 1_000_000, 30, 500, 50, 100))
	assert.Contains(t, buf.String(), "Premium:     2,054")
	assert.Contains(t, buf.String(), "1,000,000 over 30 days")
}

func TestPrintOfflineQuote_Errors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	assert.Error(t, printOfflineQuote(&buf, 0, 30, 500, 50, 100))
	assert.Error(t, printOfflineQuote(&buf, 1_000, 30, 500, 101, 100))
}

func TestLoadScenarios(t *testing.T) {
	t.Parallel()

	list := writeFile(t, "stress.yaml", `
scenarios:
  - name: baseline
    policy_count: 100
    average_severity: 1000
    claim_frequency: 1
    market_volatility: 20
    risk_buffer: 20
    total_premiums: 200000
    available_capital: 200000
  - policy_count: 100
    average_severity: 1000
    claim_frequency: 1
    market_volatility: 20
    risk_buffer: 20
    available_capital: 100000
`)
	scenarios, err := loadScenarios(list)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "baseline", scenarios[0].Name)
	assert.Equal(t, "scenario-2", scenarios[1].Name)
	assert.Equal(t, uint64(200_000), scenarios[0].TotalPremiums)

	single := writeFile(t, "single.yaml", "policy_count: 10\naverage_severity: 500\nclaim_frequency: 2\n")
	scenarios, err = loadScenarios(single)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "single", scenarios[0].Name)
	assert.Equal(t, uint64(10), scenarios[0].PolicyCount)

	_, err = loadScenarios(writeFile(t, "empty.yaml", "name: nothing\n"))
	assert.Error(t, err)
	_, err = loadScenarios(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunScenarios_Offline(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := runScenarios(context.Background(), &buf, offlineSimulator, []scenario{
		{Name: "baseline", SimulationInput: risk.SimulationInput{
			PolicyCount: 100, AverageSeverity: 1000, ClaimFrequency: 1,
			MarketVolatility: 20, RiskBuffer: 20, TotalPremiums: 200_000, AvailableCapital: 200_000,
		}},
		{Name: "thin", SimulationInput: risk.SimulationInput{
			PolicyCount: 100, AverageSeverity: 1000, ClaimFrequency: 1,
			MarketVolatility: 20, RiskBuffer: 20, AvailableCapital: 100_000,
		}},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "baseline: adequate")
	assert.Contains(t, out, "minimum capital:     144,000")
	assert.Contains(t, out, "thin: SHORTFALL")
	assert.Contains(t, out, "capital shortfall:   116,000")
}

func TestRunScenarios_InvalidInput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := runScenarios(context.Background(), &buf, offlineSimulator, []scenario{
		{Name: "bad", SimulationInput: risk.SimulationInput{MarketVolatility: 150}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulate bad")
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "catalog.yaml", `
products:
  - name: Freelance Shield
    description: Non-payment cover
    type: general
    risk_factor: 50
    premium_multiplier: 100
  - name: Dev Guard
    risk_factor: 30
    premium_multiplier: 120
    min_coverage: 5000
`)
	inputs, err := loadCatalog(path)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "Freelance Shield", inputs[0].Name)
	assert.Equal(t, uint64(50), inputs[0].RiskFactor)
	assert.Equal(t, uint64(5000), inputs[1].MinCoverage)

	_, err = loadCatalog(writeFile(t, "none.yaml", "products: []\n"))
	assert.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest("GET", "/v1/events/ws", nil)
	req.Header.Set("Origin", "https://evil.example")

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
	assert.False(t, originChecker([]string{"https://app.example"})(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, originChecker([]string{"https://app.example"})(req))
}

func TestInitCollaborators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := testConfig(t)
	provider, err := initAuth(c)
	require.NoError(t, err)
	assert.IsType(t, &auth.Trusted{}, provider)

	c.Auth.Mode = "wallet"
	provider, err = initAuth(c)
	require.NoError(t, err)
	assert.IsType(t, &auth.Wallet{}, provider)

	c.Features.UseSessionAuth = true
	_, err = initAuth(c)
	assert.Error(t, err)
	c.Auth.Secret = "s3cret"
	provider, err = initAuth(c)
	require.NoError(t, err)
	assert.IsType(t, &auth.Session{}, provider)

	tr, err := initTransfers(c)
	require.NoError(t, err)
	assert.IsType(t, &ledger.Book{}, tr)
	c.Transfer.Driver = "gateway"
	c.Transfer.Gateway.URL = "http://gateway.local"
	tr, err = initTransfers(c)
	require.NoError(t, err)
	assert.IsType(t, &transfer.Gateway{}, tr)
	c.Transfer.Driver = "wire"
	_, err = initTransfers(c)
	assert.Error(t, err)

	arch, err := initArchive(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, archive.Nop{}, arch)
	c.Archive.Driver, c.Archive.Dir = "fs", t.TempDir()
	arch, err = initArchive(ctx, c)
	require.NoError(t, err)
	assert.IsType(t, &archive.FS{}, arch)
}

func TestInitLocker_Redis(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	c := testConfig(t)
	c.Lock.Driver = "redis"
	c.Lock.Redis = lock.RedisConfig{Addr: mr.Addr(), TTL: time.Second, Poll: 5 * time.Millisecond}

	env := &shieldEnv{}
	l, err := initLocker(context.Background(), c, env)
	require.NoError(t, err)
	assert.IsType(t, &lock.Redis{}, l)
	assert.Len(t, env.closers, 1)

	release, err := l.Acquire(context.Background(), "shield:state")
	require.NoError(t, err)
	release()
	env.Close()
}

func TestInitReputation(t *testing.T) {
	t.Parallel()
	c := testConfig(t)
	assert.IsType(t, &reputation.Native{}, initReputation(c, nil))
	c.Features.UseEthosReputation = true
	assert.IsType(t, &reputation.Ethos{}, initReputation(c, nil))
}

// TestInitEnv exercises the CLI wiring end to end. It swaps the package
// config, so it does not run in parallel.
func TestInitEnv(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = testConfig(t)

	ctx := context.Background()
	env, err := initEnv(ctx, config.ModeCLI)
	require.NoError(t, err)
	defer env.Close()

	prog, err := env.Engine.InitializeProgram(ctx, adminCredential(), cfg.Program, cfg.Features)
	require.NoError(t, err)
	assert.Equal(t, "admin", prog.Authority)

	balance, err := env.Engine.Fund(ctx, adminCredential(), "alice", 5_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), balance)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initEnv(context.Background(), config.ModeCLI)
	assert.Error(t, err)
}
