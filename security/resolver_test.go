package security

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/provider"
	"github.com/kbukum/brokersec/security/tlstest"
)

// fakeFactory counts builds and can hold them until released.
type fakeFactory struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
	cleared atomic.Int32
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{entered: make(chan struct{}, 64)}
}

func (f *fakeFactory) BuildContext(_ context.Context, cfg TransportConfig) (*tls.Config, error) {
	f.calls.Add(1)
	f.entered <- struct{}{}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &tls.Config{MinVersion: cfg.tlsMinVersion()}, nil
}

func (f *fakeFactory) ClearContexts() { f.cleared.Add(1) }

func newTestResolver(t *testing.T, f ContextFactory, opts ...ResolverOption) *Resolver {
	t.Helper()
	cat := provider.NewCatalog[ContextFactory]("resolver-test", provider.Required())
	if f != nil {
		cat.Register("fake", 0, f)
	}
	opts = append([]ResolverOption{WithFactories(cat), WithLogger(logger.NewNop())}, opts...)
	return NewResolver(opts...)
}

func waitEntered(t *testing.T, f *fakeFactory) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for build to start")
	}
}

func TestResolver_CachesByFingerprint(t *testing.T) {
	f := newFakeFactory()
	r := newTestResolver(t, f)
	cfg := TransportConfig{KeystorePath: "/k"}

	first, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected the cached context to be returned")
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("expected 1 build, got %d", n)
	}
	if first.Provider != "fake" {
		t.Errorf("expected provider 'fake', got %q", first.Provider)
	}
	defaulted := cfg
	defaulted.ApplyDefaults()
	if first.Fingerprint != defaulted.Fingerprint() {
		t.Error("expected fingerprint of the defaulted configuration")
	}
}

func TestResolver_ConcurrentFirstResolveBuildsOnce(t *testing.T) {
	f := newFakeFactory()
	f.release = make(chan struct{})
	r := newTestResolver(t, f)
	cfg := TransportConfig{KeystorePath: "/k"}

	const callers = 32
	results := make([]*ResolvedContext, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, err := r.Resolve(context.Background(), cfg)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = rc
		}(i)
	}

	waitEntered(t, f)
	time.Sleep(20 * time.Millisecond)
	close(f.release)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Fatalf("expected exactly one build, got %d", n)
	}
	for i, rc := range results {
		if rc != results[0] {
			t.Fatalf("caller %d got a different context", i)
		}
	}
}

func TestResolver_DistinctFingerprintsBuildInParallel(t *testing.T) {
	f := newFakeFactory()
	f.release = make(chan struct{})
	r := newTestResolver(t, f)

	done := make(chan *ResolvedContext, 2)
	for _, path := range []string{"/a", "/b"} {
		go func(path string) {
			rc, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: path})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			done <- rc
		}(path)
	}

	// Both builds must be in flight before either is released.
	waitEntered(t, f)
	waitEntered(t, f)
	close(f.release)

	a, b := <-done, <-done
	if a == b {
		t.Error("expected distinct contexts for distinct fingerprints")
	}
}

func TestResolver_TrustAllDifferenceYieldsDistinctContexts(t *testing.T) {
	f := newFakeFactory()
	r := newTestResolver(t, f)

	strict, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: "/k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lax, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: "/k", TrustAll: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strict == lax || strict.Fingerprint == lax.Fingerprint {
		t.Error("expected trust_all to produce a distinct context")
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("expected 2 builds, got %d", n)
	}
}

func TestResolver_BuildFailureSharedAndNotCached(t *testing.T) {
	f := newFakeFactory()
	f.release = make(chan struct{})
	f.err = fmt.Errorf("keystore unreadable")
	r := newTestResolver(t, f)
	cfg := TransportConfig{KeystorePath: "/k", KeystorePassword: "hunter2"}

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := r.Resolve(context.Background(), cfg)
			errs <- err
		}()
	}
	waitEntered(t, f)
	time.Sleep(20 * time.Millisecond)
	close(f.release)

	for i := 0; i < callers; i++ {
		err := <-errs
		if !errors.HasCode(err, errors.ErrCodeContextBuildFailed) {
			t.Fatalf("expected CONTEXT_BUILD_FAILED, got %v", err)
		}
		if !errors.IsFatal(err) {
			t.Error("expected build failure to be fatal")
		}
		if strings.Contains(err.Error(), "hunter2") {
			t.Error("password leaked into error")
		}
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("expected one shared build, got %d", n)
	}

	f.err = nil
	if _, err := r.Resolve(context.Background(), cfg); err != nil {
		t.Fatalf("expected retry after failure to build, got %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("expected failure not to be cached, got %d builds", n)
	}
}

func TestResolver_InvalidateKeepsOldReference(t *testing.T) {
	f := newFakeFactory()
	r := newTestResolver(t, f)
	cfg := TransportConfig{KeystorePath: "/k"}

	old, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Invalidate(context.Background(), cfg)

	fresh, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh == old {
		t.Fatal("expected a rebuilt context after invalidation")
	}
	if fresh.Generation <= old.Generation {
		t.Errorf("expected generation to increase, got %d after %d", fresh.Generation, old.Generation)
	}
	if old.Config == nil {
		t.Error("expected the old context to remain usable")
	}
}

func TestResolver_InvalidateDuringBuildDoesNotRepopulate(t *testing.T) {
	tests := []struct {
		name       string
		invalidate func(r *Resolver, cfg TransportConfig)
	}{
		{"one", func(r *Resolver, cfg TransportConfig) { r.Invalidate(context.Background(), cfg) }},
		{"all", func(r *Resolver, _ TransportConfig) { r.InvalidateAll(context.Background()) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeFactory()
			f.release = make(chan struct{})
			r := newTestResolver(t, f)
			cfg := TransportConfig{KeystorePath: "/k"}

			done := make(chan *ResolvedContext, 1)
			go func() {
				rc, err := r.Resolve(context.Background(), cfg)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				done <- rc
			}()

			waitEntered(t, f)
			tc.invalidate(r, cfg)
			close(f.release)

			inflight := <-done
			if inflight == nil {
				t.Fatal("expected the in-flight caller to receive its context")
			}
			if len(r.Cached()) != 0 {
				t.Fatal("expected the stale build to stay out of the cache")
			}

			f.release = nil
			next, err := r.Resolve(context.Background(), cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next == inflight {
				t.Error("expected a fresh build after invalidation")
			}
			if n := f.calls.Load(); n != 2 {
				t.Errorf("expected 2 builds, got %d", n)
			}
		})
	}
}

func TestResolver_InvalidateAll(t *testing.T) {
	f := newFakeFactory()
	r := newTestResolver(t, f)

	for _, path := range []string{"/a", "/b", "/c"} {
		if _, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: path}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := r.InvalidateAll(context.Background()); n != 3 {
		t.Errorf("expected 3 contexts dropped, got %d", n)
	}
	if len(r.Cached()) != 0 {
		t.Error("expected empty cache")
	}
	if n := f.cleared.Load(); n != 1 {
		t.Errorf("expected ClearContexts to be called once, got %d", n)
	}
}

// plainFactory does not implement ContextClearer.
type plainFactory struct{}

func (plainFactory) BuildContext(context.Context, TransportConfig) (*tls.Config, error) {
	return &tls.Config{}, nil
}

func TestResolver_InvalidateAllWithoutClearer(t *testing.T) {
	r := newTestResolver(t, plainFactory{})
	if _, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: "/k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := r.InvalidateAll(context.Background()); n != 1 {
		t.Errorf("expected 1 context dropped, got %d", n)
	}
}

func TestResolver_NoProvider(t *testing.T) {
	r := newTestResolver(t, nil)
	_, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: "/k"})
	if !errors.HasCode(err, errors.ErrCodeNoProviderFound) {
		t.Fatalf("expected NO_PROVIDER_FOUND, got %v", err)
	}
}

// nilFactory returns neither a configuration nor an error.
type nilFactory struct{}

func (nilFactory) BuildContext(context.Context, TransportConfig) (*tls.Config, error) {
	return nil, nil
}

func TestResolver_NilConfigIsBuildFailure(t *testing.T) {
	r := newTestResolver(t, nilFactory{})
	_, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: "/k"})
	if !errors.HasCode(err, errors.ErrCodeContextBuildFailed) {
		t.Fatalf("expected CONTEXT_BUILD_FAILED, got %v", err)
	}
}

func TestResolver_WaiterCancellation(t *testing.T) {
	f := newFakeFactory()
	f.release = make(chan struct{})
	r := newTestResolver(t, f)
	cfg := TransportConfig{KeystorePath: "/k"}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, cfg)
		errc <- err
	}()
	waitEntered(t, f)
	cancel()

	if err := <-errc; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(f.release)
	// The build finishes for others and lands in the cache.
	rc, err := r.Resolve(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc == nil {
		t.Fatal("expected a context")
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("expected the cancelled caller's build to be reused, got %d builds", n)
	}
}

func TestResolver_GenerationStrictlyIncreases(t *testing.T) {
	r := newTestResolver(t, newFakeFactory())
	var last uint64
	for i := 0; i < 5; i++ {
		rc, err := r.Resolve(context.Background(), TransportConfig{KeystorePath: fmt.Sprintf("/k%d", i)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rc.Generation <= last {
			t.Fatalf("expected generation > %d, got %d", last, rc.Generation)
		}
		last = rc.Generation
	}
}

func TestResolver_FailureLogOmitsSecrets(t *testing.T) {
	var buf bytes.Buffer
	f := newFakeFactory()
	f.err = fmt.Errorf("bad keystore")
	r := newTestResolver(t, f, WithLogger(logger.NewWithWriter(&buf, "test")))

	_, _ = r.Resolve(context.Background(), TransportConfig{
		KeystorePath:       "/k",
		KeystorePassword:   "s3cret-key",
		TruststorePassword: "s3cret-trust",
		TruststorePath:     "/t",
	})

	out := buf.String()
	if !strings.Contains(out, "transport-security context build failed") {
		t.Errorf("expected a build failure log line, got %q", out)
	}
	if strings.Contains(out, "s3cret") {
		t.Errorf("password leaked into logs: %q", out)
	}
}

func TestResolver_BuiltInFileFactory(t *testing.T) {
	certs := tlstest.GenerateTLSCerts(t)
	r := NewResolver(WithLogger(logger.NewNop()))

	rc, err := r.Resolve(context.Background(), TransportConfig{
		KeystorePath:   certs.KeystoreFile,
		TruststorePath: certs.CAFile,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Provider != FileFactoryName {
		t.Errorf("expected built-in provider %q, got %q", FileFactoryName, rc.Provider)
	}
	if len(rc.Config.Certificates) != 1 {
		t.Errorf("expected server certificate, got %d", len(rc.Config.Certificates))
	}

	_, err = r.Resolve(context.Background(), TransportConfig{KeystorePath: "/nonexistent"})
	if !errors.HasCode(err, errors.ErrCodeContextBuildFailed) {
		t.Fatalf("expected CONTEXT_BUILD_FAILED, got %v", err)
	}
}

func TestResolver_RebuildWaitsForStaleBuild(t *testing.T) {
	f := newFakeFactory()
	f.release = make(chan struct{})
	r := newTestResolver(t, f)
	cfg := TransportConfig{KeystorePath: "/k"}

	first := make(chan *ResolvedContext, 1)
	go func() {
		rc, _ := r.Resolve(context.Background(), cfg)
		first <- rc
	}()
	waitEntered(t, f)
	r.InvalidateAll(context.Background())

	second := make(chan *ResolvedContext, 1)
	go func() {
		rc, _ := r.Resolve(context.Background(), cfg)
		second <- rc
	}()

	time.Sleep(50 * time.Millisecond)
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("expected the rebuild to wait for the stale build, got %d builds", n)
	}
	close(f.release)

	stale, fresh := <-first, <-second
	if stale == nil || fresh == nil || stale == fresh {
		t.Fatalf("expected two distinct contexts, got %v and %v", stale, fresh)
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("expected 2 builds, got %d", n)
	}
	if cached := r.Cached(); len(cached) != 1 || cached[0] != fresh {
		t.Errorf("expected the fresh build to be cached, got %v", cached)
	}
}

func TestResolver_InvalidateIdleKeysLeavesNoState(t *testing.T) {
	r := newTestResolver(t, newFakeFactory())
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		cfg := TransportConfig{KeystorePath: fmt.Sprintf("/k%d", i)}
		if _, err := r.Resolve(ctx, cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r.Invalidate(ctx, cfg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keyEpochs) != 0 || len(r.building) != 0 {
		t.Errorf("expected no per-key state, got %d epochs and %d builds", len(r.keyEpochs), len(r.building))
	}
}
