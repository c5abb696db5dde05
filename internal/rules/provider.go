package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/pkg/metrics"
)

// Publisher tells other processes a new version exists.
type Publisher interface {
	PublishInvalidation(ctx context.Context, version int64) error
}

type cached struct {
	snap      *Snapshot
	fetchedAt time.Time
}

// Provider serves the current snapshot from a process-wide cache. Reads
// are lock-free; a reload swaps the cached pointer in one step.
type Provider struct {
	store     Store
	ttl       time.Duration
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	current atomic.Pointer[cached]
	// lastGood is the newest snapshot that came from the store.
	lastGood atomic.Pointer[Snapshot]
	reload   sync.Mutex
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithTTL bounds how long a cached snapshot is served before the store is
// consulted again. Zero means until Invalidate.
func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) { p.ttl = ttl }
}

// WithPublisher broadcasts invalidations after Update.
func WithPublisher(pub Publisher) ProviderOption {
	return func(p *Provider) { p.publisher = pub }
}

func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

func NewProvider(store Store, opts ...ProviderOption) *Provider {
	p := &Provider{store: store, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.Named("rules")
	return p
}

// Snapshot returns the snapshot to evaluate against. It never returns nil:
// when the store cannot produce a valid snapshot the last good one is
// served, and failing that the hardcoded defaults.
func (p *Provider) Snapshot(ctx context.Context) *Snapshot {
	if c := p.fresh(); c != nil {
		return c.snap
	}

	p.reload.Lock()
	defer p.reload.Unlock()
	if c := p.fresh(); c != nil {
		return c.snap
	}

	snap := p.load(ctx)
	p.current.Store(&cached{snap: snap, fetchedAt: p.now()})
	return snap
}

func (p *Provider) fresh() *cached {
	c := p.current.Load()
	if c == nil {
		return nil
	}
	if p.ttl > 0 && p.now().Sub(c.fetchedAt) >= p.ttl {
		return nil
	}
	return c
}

func (p *Provider) load(ctx context.Context) *Snapshot {
	snap, err := p.fetch(ctx)
	if err == nil {
		p.lastGood.Store(snap)
		metrics.RulesVersion.Set(float64(snap.Version))
		return snap
	}

	metrics.RulesFallbackTotal.Inc()
	if good := p.lastGood.Load(); good != nil {
		p.logger.Warn("Rules store unavailable, serving last good snapshot",
			zap.Int64("version", good.Version), zap.Error(err))
		return good
	}
	p.logger.Warn("Rules store unavailable, serving hardcoded defaults", zap.Error(err))
	d := Defaults()
	d.LoadedAt = p.now().UTC()
	return d
}

func (p *Provider) fetch(ctx context.Context) (*Snapshot, error) {
	if p.store == nil {
		return nil, errors.New("no rules store configured")
	}
	snap, err := p.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("stored v%d: %w", snap.Version, err)
	}
	snap.Source = SourceStore
	snap.LoadedAt = p.now().UTC()
	return snap, nil
}

// Invalidate drops the cached snapshot; the next Snapshot call reloads.
func (p *Provider) Invalidate() {
	p.current.Store(nil)
	p.logger.Info("Rules cache invalidated")
}

// Update validates next, stores it as a new version and invalidates the
// cache locally and, when a publisher is set, across processes.
func (p *Provider) Update(ctx context.Context, next *Snapshot, author string) (*Snapshot, error) {
	if p.store == nil {
		return nil, errors.New("no rules store configured")
	}
	snap := next.Clone()
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	p.reload.Lock()
	var latest int64
	cur, err := p.store.Latest(ctx)
	switch {
	case err == nil:
		latest = cur.Version
	case !errors.Is(err, ErrNotFound):
		p.reload.Unlock()
		return nil, fmt.Errorf("read current rules version: %w", err)
	}
	snap.Version = latest + 1
	snap.Source = SourceStore
	snap.LoadedAt = p.now().UTC()
	err = p.store.Save(ctx, snap, author)
	p.reload.Unlock()
	if err != nil {
		return nil, err
	}

	p.Invalidate()
	p.logger.Info("Rules updated", zap.Int64("version", snap.Version), zap.String("author", author))
	if p.publisher != nil {
		if err := p.publisher.PublishInvalidation(ctx, snap.Version); err != nil {
			p.logger.Warn("Failed to broadcast rules invalidation", zap.Error(err))
		}
	}
	return snap, nil
}
