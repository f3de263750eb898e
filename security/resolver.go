package security

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/observability"
	"github.com/kbukum/brokersec/provider"
)

// ResolvedContext is a built transport-security context. It is immutable
// once returned and shared by every listener with the same fingerprint.
type ResolvedContext struct {
	Fingerprint Fingerprint
	// Config is shared; callers must not modify it.
	Config *tls.Config
	// Generation increases strictly with every build in the process.
	Generation uint64
	// Provider is the name of the factory that built the context.
	Provider string
	BuiltAt  time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFactories overrides the factory catalog. Defaults to ContextFactories.
func WithFactories(c *provider.Catalog[ContextFactory]) ResolverOption {
	return func(r *Resolver) { r.factories = c }
}

// WithMetrics sets the metric instruments. Defaults to observability.DefaultMetrics.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// Resolver builds and caches transport-security contexts by fingerprint.
//
// Concurrent first resolutions of one fingerprint share a single build and
// its outcome; different fingerprints build in parallel. Failed builds are
// not cached. Invalidation drops cache entries without affecting contexts
// already handed out, and a build that was in flight when its entry was
// invalidated does not repopulate the cache. A resolution that follows the
// invalidation waits for that stale build to finish before building, so
// one fingerprint never has two builds running.
type Resolver struct {
	factories *provider.Catalog[ContextFactory]
	metrics   *observability.Metrics
	log       *logger.Logger
	now       func() time.Time

	group      singleflight.Group
	generation atomic.Uint64

	mu    sync.Mutex
	cache map[Fingerprint]*ResolvedContext
	// epoch advances on InvalidateAll; keyEpochs on Invalidate of a key
	// whose build is in flight. Idle keys are dropped from keyEpochs.
	epoch     uint64
	keyEpochs map[Fingerprint]uint64
	// building holds a channel per fingerprint, closed when its build ends.
	building map[Fingerprint]chan struct{}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		factories: ContextFactories,
		log:       logger.Get("security"),
		now:       time.Now,
		cache:     make(map[Fingerprint]*ResolvedContext),
		keyEpochs: make(map[Fingerprint]uint64),
		building:  make(map[Fingerprint]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observability.DefaultMetrics()
	}
	return r
}

// Resolve returns the context for cfg, building it on first use. Build
// failures surface as ContextBuildFailed to every caller that shared the
// build. A caller whose ctx ends while waiting gets ctx.Err(); the build
// itself carries on for the other waiters.
func (r *Resolver) Resolve(ctx context.Context, cfg TransportConfig) (*ResolvedContext, error) {
	cfg.ApplyDefaults()
	fp := cfg.Fingerprint()

	r.mu.Lock()
	if rc, ok := r.cache[fp]; ok {
		r.mu.Unlock()
		r.metrics.RecordContextCacheHit(ctx)
		return rc, nil
	}
	epoch, keyEpoch := r.epoch, r.keyEpochs[fp]
	r.mu.Unlock()

	key := fmt.Sprintf("%s/%d/%d", fp, epoch, keyEpoch)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.build(context.WithoutCancel(ctx), cfg, fp, epoch, keyEpoch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ResolvedContext), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) build(ctx context.Context, cfg TransportConfig, fp Fingerprint, epoch, keyEpoch uint64) (*ResolvedContext, error) {
	r.mu.Lock()
	for {
		if rc, ok := r.cache[fp]; ok && r.epoch == epoch && r.keyEpochs[fp] == keyEpoch {
			r.mu.Unlock()
			return rc, nil
		}
		prev, busy := r.building[fp]
		if !busy {
			break
		}
		r.mu.Unlock()
		<-prev
		r.mu.Lock()
	}
	done := make(chan struct{})
	r.building[fp] = done
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.building, fp)
		r.mu.Unlock()
		close(done)
	}()

	d, _, err := r.factories.Select(ctx)
	if err != nil {
		r.log.Error("no transport-security context provider", logger.Fields(
			logger.FieldFingerprint, fp.Short(),
			logger.FieldError, err.Error(),
		))
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanContextBuild)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrProvider, d.Name)
	observability.SetSpanAttribute(ctx, observability.AttrFingerprint, fp.Short())

	start := r.now()
	tc, err := d.Provider.BuildContext(ctx, cfg)
	elapsed := r.now().Sub(start)
	if err == nil && tc == nil {
		err = fmt.Errorf("security/tls: provider %s returned no configuration", d.Name)
	}
	if err != nil {
		r.metrics.RecordContextBuild(ctx, d.Name, observability.StatusError, elapsed)
		observability.SetSpanError(ctx, err)
		r.log.Error("transport-security context build failed", logger.Fields(
			logger.FieldFingerprint, fp.Short(),
			logger.FieldProvider, d.Name,
			logger.FieldError, err.Error(),
		))
		return nil, errors.ContextBuildFailed(fp.Short(), err)
	}

	rc := &ResolvedContext{
		Fingerprint: fp,
		Config:      tc,
		Generation:  r.generation.Add(1),
		Provider:    d.Name,
		BuiltAt:     r.now(),
	}
	r.metrics.RecordContextBuild(ctx, d.Name, observability.StatusOK, elapsed)
	observability.SetSpanAttribute(ctx, observability.AttrGeneration, rc.Generation)

	r.mu.Lock()
	stale := r.epoch != epoch || r.keyEpochs[fp] != keyEpoch
	if !stale {
		r.cache[fp] = rc
	}
	r.mu.Unlock()

	fields := logger.Fields(
		logger.FieldFingerprint, fp.Short(),
		logger.FieldProvider, d.Name,
		logger.FieldGeneration, rc.Generation,
	)
	if stale {
		r.log.Debug("context invalidated during build, not cached", fields)
	} else {
		r.log.Info("transport-security context built", fields, logger.DurationFields("build", elapsed))
	}
	return rc, nil
}

// Invalidate drops the cached context for cfg. The next Resolve builds a
// fresh one; holders of the old context keep using it.
func (r *Resolver) Invalidate(ctx context.Context, cfg TransportConfig) {
	cfg.ApplyDefaults()
	fp := cfg.Fingerprint()

	r.mu.Lock()
	delete(r.cache, fp)
	if _, busy := r.building[fp]; busy {
		r.keyEpochs[fp]++
	} else {
		delete(r.keyEpochs, fp)
	}
	r.mu.Unlock()

	r.metrics.RecordContextInvalidation(ctx, "one")
	r.log.Info("transport-security context invalidated", logger.Fields(
		logger.FieldFingerprint, fp.Short(),
	))
}

// InvalidateAll drops every cached context and asks the selected factory
// to clear its own caches if it has any. It returns the number of
// contexts dropped.
func (r *Resolver) InvalidateAll(ctx context.Context) int {
	r.mu.Lock()
	n := len(r.cache)
	r.cache = make(map[Fingerprint]*ResolvedContext)
	r.keyEpochs = make(map[Fingerprint]uint64)
	r.epoch++
	r.mu.Unlock()

	if d, ok, err := r.factories.Select(ctx); err == nil && ok {
		if c, ok := d.Provider.(ContextClearer); ok {
			c.ClearContexts()
		}
	}

	r.metrics.RecordContextInvalidation(ctx, "all")
	r.log.Info("all transport-security contexts invalidated", logger.Fields("dropped", n))
	return n
}

// Cached returns the contexts currently in the cache.
func (r *Resolver) Cached() []*ResolvedContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ResolvedContext, 0, len(r.cache))
	for _, rc := range r.cache {
		out = append(out, rc)
	}
	return out
}
