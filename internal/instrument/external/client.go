// Package external talks to the remote reference-data service and
// normalizes its answers into instrument identities.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Aidin1998/padcheck/internal/instrument"
)

// Config holds remote reference-data settings.
type Config struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Token          string        `mapstructure:"token" yaml:"token" json:"-"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout" validate:"required"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" yaml:"rate_per_second" json:"rate_per_second" validate:"gte=0"`
	Burst          int           `mapstructure:"burst" yaml:"burst" json:"burst" validate:"gte=0"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"`
	NegativeTTL    time.Duration `mapstructure:"negative_ttl" yaml:"negative_ttl" json:"negative_ttl"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes"`
	BadgerCacheDir string        `mapstructure:"badger_cache_dir" yaml:"badger_cache_dir" json:"badger_cache_dir"`
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Second,
		RatePerSecond: 20,
		Burst:         5,
		CacheTTL:      6 * time.Hour,
		NegativeTTL:   10 * time.Minute,
		UserAgent:     "padcheck-resolver/1.0",
		MaxBodyBytes:  1 << 20,
	}
}

// Enabled reports whether a remote service is configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BaseURL) != ""
}

// StatusError is returned for non-2xx answers other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reference service returned %d: %s", e.Code, e.Body)
}

// wire format of the reference service
type lookupResponse struct {
	Data []remoteInstrument `json:"data"`
}

type remoteInstrument struct {
	ID             string `json:"id"`
	ISIN           string `json:"isin"`
	SEDOL          string `json:"sedol"`
	Ticker         string `json:"ticker"`
	ExchangeSymbol string `json:"exchange_symbol"`
	Name           string `json:"name"`
	SecurityType   string `json:"security_type"`
	Currency       string `json:"currency"`
	MIC            string `json:"mic"`
	Status         string `json:"status"`
}

func (r remoteInstrument) normalize() instrument.Instrument {
	symbol := strings.TrimSpace(r.Ticker)
	if symbol == "" {
		symbol = strings.TrimSpace(r.ID)
	}
	return instrument.Instrument{
		Symbol:         strings.ToUpper(symbol),
		ISIN:           strings.ToUpper(strings.TrimSpace(r.ISIN)),
		SEDOL:          strings.ToUpper(strings.TrimSpace(r.SEDOL)),
		Ticker:         strings.ToUpper(strings.TrimSpace(r.Ticker)),
		ExchangeSymbol: strings.ToUpper(strings.TrimSpace(r.ExchangeSymbol)),
		Description:    strings.TrimSpace(r.Name),
		Type:           instrument.ParseTypeTag(r.SecurityType),
		Currency:       strings.ToUpper(strings.TrimSpace(r.Currency)),
		Exchange:       strings.ToUpper(strings.TrimSpace(r.MIC)),
		Deleted:        strings.EqualFold(r.Status, "delisted"),
		Source:         instrument.TierExternal,
	}
}

// Client performs single lookups against the reference service.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	cache   Cache
	logger  *zap.Logger
}

// NewClient builds a client. cache may be nil.
func NewClient(config Config, cache Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		cache:   cache,
		logger:  logger.Named("external"),
	}
}

// params picks the most specific identifier available. Free text is only
// sent when no identifier was given.
func params(q instrument.Query) url.Values {
	q = q.Normalize()
	v := url.Values{}
	switch {
	case q.ISIN != "":
		v.Set("isin", q.ISIN)
	case q.SEDOL != "":
		v.Set("sedol", q.SEDOL)
	case q.Ticker != "":
		v.Set("ticker", q.Ticker)
	case q.ExchangeCode != "":
		v.Set("ticker", q.ExchangeCode)
	case q.Text != "":
		v.Set("q", q.Text)
	}
	return v
}

func cacheKey(v url.Values) string {
	return "padcheck:external:" + v.Encode()
}

// Lookup returns zero or one normalized instrument for the query.
func (c *Client) Lookup(ctx context.Context, q instrument.Query) (*instrument.Instrument, error) {
	v := params(q)
	if len(v) == 0 {
		return nil, nil
	}
	key := cacheKey(v)

	if c.cache != nil {
		if inst, hit, err := c.fromCache(ctx, key); err != nil {
			c.logger.Debug("External lookup cache read failed", zap.Error(err))
		} else if hit {
			return inst, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	inst, err := c.fetch(ctx, v)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.toCache(ctx, key, inst)
	}
	return inst, nil
}

func (c *Client) fetch(ctx context.Context, v url.Values) (*instrument.Instrument, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/v1/instruments?" + v.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reference request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read reference response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode reference response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, nil
	}
	if len(parsed.Data) > 1 {
		c.logger.Debug("Reference service returned several instruments, using the first",
			zap.Int("count", len(parsed.Data)))
	}
	inst := parsed.Data[0].normalize()
	if inst.Symbol == "" && inst.ISIN == "" {
		return nil, nil
	}
	return &inst, nil
}

// cached value; Found=false records a negative answer
type cachedLookup struct {
	Found      bool                  `json:"found"`
	Instrument instrument.Instrument `json:"instrument"`
}

func (c *Client) fromCache(ctx context.Context, key string) (*instrument.Instrument, bool, error) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var v cachedLookup
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, err
	}
	if !v.Found {
		return nil, true, nil
	}
	inst := v.Instrument
	return &inst, true, nil
}

func (c *Client) toCache(ctx context.Context, key string, inst *instrument.Instrument) {
	v := cachedLookup{Found: inst != nil}
	ttl := c.config.NegativeTTL
	if inst != nil {
		v.Instrument = *inst
		ttl = c.config.CacheTTL
	}
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Debug("External lookup cache write failed", zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsTimeout reports whether err came from a deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
