package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/padcheck/testutil"
)

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	d.Normalize()
	require.NoError(t, d.Validate())
	assert.Equal(t, SourceDefaults, d.Source)
	assert.Equal(t, 1, d.MediumFactorThreshold)
	assert.False(t, d.AllowAutoApproveExternalOnly)
	for _, c := range Criteria {
		cfg := d.Criterion(c)
		assert.True(t, cfg.Enabled, c)
	}
	assert.Equal(t, ModeBlock, d.Criterion(RestrictedList).Mode)
	assert.Equal(t, EscalateSMF16, d.Criterion(InsiderInformation).Escalation)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"zero threshold", func(s *Snapshot) { s.MediumFactorThreshold = 0 }},
		{"negative ceiling", func(s *Snapshot) { s.AutoApproveCeiling = decimal.NewFromInt(-1) }},
		{"inverted breakpoints", func(s *Snapshot) { s.PositionSizeMedium = decimal.NewFromInt(1_000_000) }},
		{"bad currency", func(s *Snapshot) { s.BaseCurrency = "POUND" }},
		{"zero fx rate", func(s *Snapshot) { s.FXRates["USD"] = decimal.Zero }},
		{"bad mode", func(s *Snapshot) {
			s.Advisory[HoldingPeriod] = CriterionConfig{Enabled: true, Mode: "warn", Escalation: EscalateCompliance}
		}},
		{"unknown criterion", func(s *Snapshot) {
			s.Advisory["lunar_phase"] = CriterionConfig{Enabled: true, Mode: ModeBlock, Escalation: EscalateCompliance}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.mutate(s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSnapshot)
		})
	}
}

func TestNormalizeFillsMissingCriteria(t *testing.T) {
	s := Defaults()
	delete(s.Advisory, InsiderInformation)
	s.BaseCurrency = " usd "
	s.FXRates = map[string]decimal.Decimal{"gbp": decimal.RequireFromString("1.27")}
	s.HighRiskCategories = []string{" Trader ", ""}
	s.Normalize()

	assert.Equal(t, "USD", s.BaseCurrency)
	assert.True(t, s.FXRates["USD"].Equal(decimal.NewFromInt(1)))
	assert.True(t, s.FXRates["GBP"].Equal(decimal.RequireFromString("1.27")))
	assert.Equal(t, []string{"trader"}, s.HighRiskCategories)
	assert.Equal(t, ModeBlock, s.Advisory[InsiderInformation].Mode)
}

func TestToBase(t *testing.T) {
	s := Defaults()
	s.FXRates["USD"] = decimal.RequireFromString("0.8")

	v, ok := s.ToBase(decimal.NewFromInt(100), "gbp")
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(100)))

	v, ok = s.ToBase(decimal.NewFromInt(100), "USD")
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(80)))

	_, ok = s.ToBase(decimal.NewFromInt(100), "JPY")
	assert.False(t, ok)
	_, ok = s.ToBase(decimal.NewFromInt(100), "")
	assert.False(t, ok)
}

func TestCategory(t *testing.T) {
	s := Defaults()
	assert.Equal(t, "high", s.Category("Trader"))
	assert.Equal(t, "medium", s.Category("research"))
	assert.Equal(t, "standard", s.Category("operations"))
	assert.Equal(t, "", s.Category("  "))
}

func TestCloneIsDeep(t *testing.T) {
	s := Defaults()
	c := s.Clone()
	c.FXRates["USD"] = decimal.NewFromInt(2)
	c.Advisory[HoldingPeriod] = CriterionConfig{Mode: ModeBlock}
	c.HighRiskCategories[0] = "changed"

	_, ok := s.FXRates["USD"]
	assert.False(t, ok)
	assert.Equal(t, ModeAdvise, s.Advisory[HoldingPeriod].Mode)
	assert.Equal(t, "senior_manager", s.HighRiskCategories[0])
}

const seedYAML = `
base_currency: gbp
fx_rates:
  usd: "0.79"
  eur: 0.85
auto_approve_ceiling: 10000
position_size_medium: 25000
position_size_high: 100000
firm_activity_lookback_months: 3
medium_factor_threshold: 2
high_risk_categories: [senior_manager]
holding_period_days: 30
advisory:
  holding_period:
    enabled: true
    mode: block
    escalation: compliance
`

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(seedYAML))
	require.NoError(t, err)
	assert.Equal(t, "GBP", s.BaseCurrency)
	assert.True(t, s.FXRates["USD"].Equal(decimal.RequireFromString("0.79")))
	assert.True(t, s.FXRates["EUR"].Equal(decimal.RequireFromString("0.85")))
	assert.True(t, s.PositionSizeHigh.Equal(decimal.NewFromInt(100_000)))
	assert.Equal(t, 2, s.MediumFactorThreshold)
	assert.Equal(t, 3, s.FirmActivityLookbackMonths)
	assert.Equal(t, ModeBlock, s.Advisory[HoldingPeriod].Mode)
	assert.Equal(t, ModeBlock, s.Advisory[RestrictedList].Mode, "unlisted criteria keep defaults")

	_, err = ParseYAML([]byte("medium_factor_threshold: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestGormStore(t *testing.T) {
	db := testutil.NewDB(t, &RuleSetRecord{})
	store := NewGormStore(db)
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	s := Defaults()
	s.Version = 1
	require.NoError(t, store.Save(ctx, s, "alice"))
	s2 := s.Clone()
	s2.Version = 2
	s2.MediumFactorThreshold = 2
	require.NoError(t, store.Save(ctx, s2, "bob"))
	assert.Error(t, store.Save(ctx, s2, "bob"), "versions are never overwritten")

	got, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	assert.Equal(t, 2, got.MediumFactorThreshold)
	assert.Equal(t, SourceStore, got.Source)
	assert.True(t, got.AutoApproveCeiling.Equal(s.AutoApproveCeiling))
}

type memStore struct {
	mu    sync.Mutex
	snaps []*Snapshot
	err   error
	reads int
}

func (m *memStore) Latest(context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.snaps) == 0 {
		return nil, ErrNotFound
	}
	return m.snaps[len(m.snaps)-1].Clone(), nil
}

func (m *memStore) Save(_ context.Context, s *Snapshot, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s.Clone())
	return nil
}

func (m *memStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

type recordingPublisher struct{ versions []int64 }

func (r *recordingPublisher) PublishInvalidation(_ context.Context, v int64) error {
	r.versions = append(r.versions, v)
	return nil
}

func TestProvider_FallsBackToDefaults(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	p := NewProvider(store)

	s := p.Snapshot(context.Background())
	require.NotNil(t, s)
	assert.Equal(t, SourceDefaults, s.Source)
	assert.Equal(t, 1, s.MediumFactorThreshold)
}

func TestProvider_InvalidStoredSnapshotFallsBack(t *testing.T) {
	bad := Defaults()
	bad.Version = 4
	bad.MediumFactorThreshold = 0
	p := NewProvider(&memStore{snaps: []*Snapshot{bad}})

	s := p.Snapshot(context.Background())
	assert.Equal(t, SourceDefaults, s.Source)
}

func TestProvider_CachesUntilInvalidated(t *testing.T) {
	stored := Defaults()
	stored.Version = 3
	store := &memStore{snaps: []*Snapshot{stored}}
	p := NewProvider(store)
	ctx := context.Background()

	first := p.Snapshot(ctx)
	assert.EqualValues(t, 3, first.Version)
	assert.Equal(t, SourceStore, first.Source)
	assert.Same(t, first, p.Snapshot(ctx))
	assert.Equal(t, 1, store.Reads())

	p.Invalidate()
	second := p.Snapshot(ctx)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, store.Reads())
}

func TestProvider_TTL(t *testing.T) {
	store := &memStore{snaps: []*Snapshot{Defaults()}}
	p := NewProvider(store, WithTTL(time.Minute))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Snapshot(context.Background())
	p.Snapshot(context.Background())
	assert.Equal(t, 1, store.Reads())

	now = now.Add(2 * time.Minute)
	p.Snapshot(context.Background())
	assert.Equal(t, 2, store.Reads())
}

func TestProvider_KeepsLastGoodOnStoreFailure(t *testing.T) {
	stored := Defaults()
	stored.Version = 7
	stored.MediumFactorThreshold = 2
	store := &memStore{snaps: []*Snapshot{stored}}
	p := NewProvider(store)
	ctx := context.Background()

	require.EqualValues(t, 7, p.Snapshot(ctx).Version)
	store.setErr(errors.New("db down"))
	p.Invalidate()

	s := p.Snapshot(ctx)
	assert.EqualValues(t, 7, s.Version)
	assert.Equal(t, 2, s.MediumFactorThreshold)
}

func TestProvider_Update(t *testing.T) {
	store := &memStore{}
	pub := &recordingPublisher{}
	p := NewProvider(store, WithPublisher(pub))
	ctx := context.Background()

	assert.Equal(t, SourceDefaults, p.Snapshot(ctx).Source)

	next := Defaults()
	next.MediumFactorThreshold = 2
	saved, err := p.Update(ctx, next, "compliance-admin")
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.Version)

	cur := p.Snapshot(ctx)
	assert.EqualValues(t, 1, cur.Version)
	assert.Equal(t, 2, cur.MediumFactorThreshold)
	assert.Equal(t, []int64{1}, pub.versions)

	saved, err = p.Update(ctx, cur, "compliance-admin")
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.Version)
	assert.EqualValues(t, 1, cur.Version, "the served snapshot is not mutated")

	bad := Defaults()
	bad.MediumFactorThreshold = 0
	_, err = p.Update(ctx, bad, "x")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}
