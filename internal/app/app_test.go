package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/compliance"
	"github.com/Aidin1998/padcheck/internal/config"
	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/internal/instrument/reference"
	"github.com/Aidin1998/padcheck/internal/position"
	"github.com/Aidin1998/padcheck/internal/routing"
	"github.com/Aidin1998/padcheck/pkg/metrics"
	ptestutil "github.com/Aidin1998/padcheck/testutil"
)

const rulesYAML = `
base_currency: GBP
fx_rates:
  USD: "0.79"
auto_approve_ceiling: 10000
medium_factor_threshold: 1
`

func newApp(t *testing.T) *App {
	t.Helper()
	mgr, err := config.Load(zap.NewNop(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg := mgr.Get()
	cfg.Database.AutoMigrate = true

	db := ptestutil.NewDB(t)
	a, err := Build(context.Background(), cfg, zap.NewNop(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, db.Create(&reference.SecurityRow{
		Symbol:      "VOD.L",
		ISIN:        "GB00BH4HKS39",
		Ticker:      "VOD",
		Description: "Vodafone Group plc",
		Type:        string(instrument.TypeEquity),
		Currency:    "GBP",
		Exchange:    "XLON",
	}).Error)
	return a
}

func seedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))
	return path
}

func TestBuild_Defaults(t *testing.T) {
	a := newApp(t)
	assert.Nil(t, a.Redis, "redis is off without an address")
	assert.NotNil(t, a.Decisions)
	assert.NotNil(t, a.Server())
	assert.NotContains(t, a.Checks(), "redis")

	a.RecordPoolStats()
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.DBOpenConns.WithLabelValues(a.Config.Database.Driver)), 1.0)
}

func TestChecks_FuzzyIndex(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	check := a.Checks()["fuzzy_index"]
	require.NotNil(t, check)
	assert.Error(t, check(ctx), "reported until the first load")

	require.NoError(t, a.DB.Where("1 = 1").Delete(&reference.SecurityRow{}).Error)
	require.NoError(t, a.Fuzzy.Load(ctx))
	assert.Equal(t, 0, a.Fuzzy.Size())
	assert.NoError(t, check(ctx), "an empty universe still serves")
}

func TestSeedRules(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	path := seedFile(t)

	first, err := a.SeedRules(ctx, path, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Version)
	assert.True(t, first.FXRates["USD"].Equal(decimal.RequireFromString("0.79")))

	again, err := a.SeedRules(ctx, path, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, again.Version, "an existing rule set is kept")

	forced, err := a.SeedRules(ctx, path, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, forced.Version)

	_, err = a.SeedRules(ctx, filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

func TestEvaluate_EndToEnd(t *testing.T) {
	a := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := a.SeedRules(ctx, seedFile(t), false)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, 1, a.Fuzzy.Size())
	for name, check := range a.Checks() {
		assert.NoError(t, check(ctx), name)
	}

	value := decimal.NewFromInt(5000)
	no := false
	res, err := a.Service.Evaluate(ctx, compliance.Request{
		RequestID:          "req-1",
		Query:              instrument.Query{Text: "vodafone"},
		Direction:          position.Buy,
		Value:              &value,
		Currency:           "GBP",
		EmployeeID:         "E100",
		EmployeeCategory:   "operations",
		EmployeeDesk:       "equities",
		InsiderInformation: &no,
	})
	require.NoError(t, err)
	require.Equal(t, compliance.StatusDecided, res.Status)

	d := res.Decision
	assert.Equal(t, "VOD.L", d.Instrument.Symbol)
	assert.Equal(t, routing.AutoApprove, d.Route)
	assert.EqualValues(t, 1, d.Rules.Version)

	stored, err := a.Decisions.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Route, stored.Route)
	assert.Equal(t, "E100", stored.EmployeeID)
}
