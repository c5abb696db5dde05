package external

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/padcheck/internal/instrument"
)

const appleBody = `{"data":[{"id":"BBG000B9XRY4","isin":"us0378331005","ticker":"aapl us","name":"Apple Inc","security_type":"Common Stock","currency":"usd","mic":"xnas","status":"active"}]}`

func newTestClient(t *testing.T, h http.HandlerFunc, cache Cache) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "secret"
	cfg.RatePerSecond = 0
	return NewClient(cfg, cache, nil), &calls
}

func TestClientLookup(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/instruments", r.URL.Path)
		assert.Equal(t, "US0378331005", r.URL.Query().Get("isin"))
		assert.Empty(t, r.URL.Query().Get("q"), "free text is not sent when an identifier is present")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(appleBody))
	}, nil)

	inst, err := c.Lookup(context.Background(), instrument.Query{Text: "apple", ISIN: " us0378331005 "})
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "AAPL US", inst.Symbol)
	assert.Equal(t, "US0378331005", inst.ISIN)
	assert.Equal(t, instrument.TypeEquity, inst.Type)
	assert.Equal(t, "USD", inst.Currency)
	assert.Equal(t, instrument.TierExternal, inst.Source)
	assert.False(t, inst.Deleted)
}

func TestClientLookup_NotFoundAndEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticker") == "NOPE" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}, nil)

	inst, err := c.Lookup(context.Background(), instrument.Query{Ticker: "nope"})
	require.NoError(t, err)
	assert.Nil(t, inst)

	inst, err = c.Lookup(context.Background(), instrument.Query{Text: "something"})
	require.NoError(t, err)
	assert.Nil(t, inst)

	inst, err = c.Lookup(context.Background(), instrument.Query{})
	require.NoError(t, err)
	assert.Nil(t, inst)
}

func TestClientLookup_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad token"))
	}, nil)

	_, err := c.Lookup(context.Background(), instrument.Query{Ticker: "AAPL"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "bad token", se.Body)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = value
	return nil
}

func TestClientLookup_UsesCache(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ticker") == "MISSING" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(appleBody))
	}, &mapCache{})

	for i := 0; i < 3; i++ {
		inst, err := c.Lookup(context.Background(), instrument.Query{Ticker: "AAPL"})
		require.NoError(t, err)
		require.NotNil(t, inst)
		assert.Equal(t, "AAPL US", inst.Symbol)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	for i := 0; i < 2; i++ {
		inst, err := c.Lookup(context.Background(), instrument.Query{Ticker: "MISSING"})
		require.NoError(t, err)
		assert.Nil(t, inst)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(calls), "negative answers are cached too")
}

func TestBadgerCache(t *testing.T) {
	bc, err := OpenBadgerCache("")
	require.NoError(t, err)
	defer bc.Close()

	ctx := context.Background()
	_, ok, err := bc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bc.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := bc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

type fakeLookup struct {
	inst  *instrument.Instrument
	err   error
	delay time.Duration
}

func (f fakeLookup) Lookup(ctx context.Context, _ instrument.Query) (*instrument.Instrument, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.inst, f.err
}

func TestAdapterCandidate(t *testing.T) {
	bmhs := &instrument.Instrument{Symbol: "BMHS", Source: instrument.TierExternal}
	q := instrument.Query{Text: "BUND"}

	got := NewAdapter(fakeLookup{inst: bmhs}, time.Second, nil).Candidate(context.Background(), q)
	require.NotNil(t, got)
	assert.Equal(t, "BMHS", got.Symbol)

	assert.Nil(t, NewAdapter(fakeLookup{err: errors.New("connection refused")}, time.Second, nil).Candidate(context.Background(), q))
	assert.Nil(t, NewAdapter(nil, time.Second, nil).Candidate(context.Background(), q))

	var nilAdapter *Adapter
	assert.Nil(t, nilAdapter.Candidate(context.Background(), q))
}

func TestAdapterCandidate_Timeout(t *testing.T) {
	a := NewAdapter(fakeLookup{inst: &instrument.Instrument{Symbol: "SLOW"}, delay: time.Second}, 20*time.Millisecond, nil)

	start := time.Now()
	assert.Nil(t, a.Candidate(context.Background(), instrument.Query{Ticker: "SLOW"}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(nil))
}
