package fuzzy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/instrument"
	"github.com/Aidin1998/padcheck/pkg/metrics"
)

var (
	// ErrRefreshInProgress is returned when a refresh is requested while
	// another one is still building.
	ErrRefreshInProgress = errors.New("fuzzy index refresh already in progress")
	// ErrNotLoaded is returned by Load when the first build fails.
	ErrNotLoaded = errors.New("fuzzy index not loaded")
)

// Loader reads the full instrument universe.
type Loader interface {
	LoadUniverse(ctx context.Context) ([]instrument.Instrument, error)
}

// Config controls matching and refresh.
type Config struct {
	// Floor is the minimum similarity for a hit.
	Floor float64 `mapstructure:"floor" yaml:"floor" json:"floor" validate:"gt=0,lte=1"`
	// MaxResults bounds the matches returned per search.
	MaxResults int `mapstructure:"max_results" yaml:"max_results" json:"max_results" validate:"min=1"`
	// RefreshInterval is how often the universe is reloaded.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval" json:"refresh_interval" validate:"required"`
	// LoadTimeout bounds a single universe load.
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout" json:"load_timeout"`
}

// DefaultConfig returns the matching defaults.
func DefaultConfig() Config {
	return Config{
		Floor:           0.6,
		MaxResults:      5,
		RefreshInterval: 30 * time.Minute,
		LoadTimeout:     2 * time.Minute,
	}
}

// Cache serves searches from the current index while a background job
// rebuilds it. Readers never block on a refresh and never see a partially
// built index.
type Cache struct {
	loader     Loader
	config     Config
	logger     *zap.Logger
	index      atomic.Pointer[Index]
	refreshing atomic.Bool
	cron       *cron.Cron
}

// New creates an empty cache. Call Load before serving traffic.
func New(loader Loader, config Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		loader: loader,
		config: config,
		logger: logger.Named("fuzzy"),
		cron:   cron.New(),
	}
}

// Load performs the initial build.
func (c *Cache) Load(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		if c.index.Load() == nil {
			return fmt.Errorf("%w: %v", ErrNotLoaded, err)
		}
		return err
	}
	return nil
}

// Refresh rebuilds the index from the loader and swaps it in. On failure
// the previous index keeps serving.
func (c *Cache) Refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer c.refreshing.Store(false)

	if c.config.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.LoadTimeout)
		defer cancel()
	}

	start := time.Now()
	items, err := c.loader.LoadUniverse(ctx)
	if err != nil {
		metrics.FuzzyRefreshTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Fuzzy index refresh failed, serving previous index",
			zap.Error(err), zap.Int("current_size", c.Size()))
		return fmt.Errorf("load universe: %w", err)
	}

	ix := NewIndex(items)
	c.index.Store(ix)
	metrics.FuzzyRefreshTotal.WithLabelValues("ok").Inc()
	metrics.FuzzyIndexSize.Set(float64(ix.Len()))
	metrics.FuzzyIndexBuiltAt.Set(float64(ix.BuiltAt().Unix()))
	c.logger.Info("Fuzzy index refreshed",
		zap.Int("entries", ix.Len()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Search returns the best matches for term above the configured floor.
func (c *Cache) Search(term string, n int) []Match {
	if n <= 0 || n > c.config.MaxResults {
		n = c.config.MaxResults
	}
	return c.index.Load().Search(term, n, c.config.Floor)
}

// Size returns the number of entries in the live index.
func (c *Cache) Size() int {
	return c.index.Load().Len()
}

// BuiltAt returns when the live index was built, zero until a load has
// succeeded. An empty universe still counts as loaded.
func (c *Cache) BuiltAt() time.Time {
	return c.index.Load().BuiltAt()
}

// Start schedules periodic refreshes. The schedule runs until Stop.
func (c *Cache) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", c.config.RefreshInterval)
	_, err := c.cron.AddFunc(spec, func() {
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
			c.logger.Debug("Scheduled refresh did not complete", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule fuzzy refresh: %w", err)
	}
	c.cron.Start()
	c.logger.Info("Fuzzy index refresh scheduled", zap.Duration("interval", c.config.RefreshInterval))
	return nil
}

// Stop halts the refresh schedule and waits for a running job.
func (c *Cache) Stop() {
	<-c.cron.Stop().Done()
}
