package listener

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"maps"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"github.com/kbukum/brokersec/component"
	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/mechanism"
	"github.com/kbukum/brokersec/negotiation"
	"github.com/kbukum/brokersec/observability"
	"github.com/kbukum/brokersec/resilience"
	"github.com/kbukum/brokersec/security"
	"github.com/kbukum/brokersec/wire"
)

// Handler receives connections that completed authentication. The
// listener closes conn once ServeAuthenticated returns.
type Handler interface {
	ServeAuthenticated(ctx context.Context, conn net.Conn, id mechanism.Identity)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn, id mechanism.Identity)

// ServeAuthenticated implements Handler.
func (f HandlerFunc) ServeAuthenticated(ctx context.Context, conn net.Conn, id mechanism.Identity) {
	f(ctx, conn, id)
}

// Codec turns a connection into negotiation frames.
type Codec func(net.Conn) negotiation.FrameConn

// Option configures a Listener.
type Option func(*Listener)

// WithResolver sets the transport-security resolver. Listeners sharing a
// resolver share contexts for identical TLS configurations.
func WithResolver(r *security.Resolver) Option {
	return func(l *Listener) { l.resolver = r }
}

// WithCatalog sets the mechanism catalog. Defaults to mechanism.Default.
func WithCatalog(c *mechanism.Catalog) Option {
	return func(l *Listener) { l.catalog = c }
}

// WithHandler sets the handler for authenticated connections.
func WithHandler(h Handler) Option {
	return func(l *Listener) { l.handler = h }
}

// WithCodec sets the negotiation framing. Defaults to the wire codec.
func WithCodec(c Codec) Option {
	return func(l *Listener) { l.codec = c }
}

// WithAuditor sets the audit sink passed to every session.
func WithAuditor(a negotiation.Auditor) Option {
	return func(l *Listener) { l.auditor = a }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(lg *logger.Logger) Option {
	return func(l *Listener) { l.log = lg }
}

// Listener accepts connections, negotiates authentication on each and
// hands authenticated connections to its Handler.
//
// Start fails, and the listener never accepts, when its transport-security
// context cannot be built or its allow-list names a mechanism that is not
// installed.
type Listener struct {
	cfg      Config
	domain   mechanism.SecurityDomain
	resolver *security.Resolver
	catalog  *mechanism.Catalog
	handler  Handler
	codec    Codec
	auditor  negotiation.Auditor
	metrics  *observability.Metrics
	log      *logger.Logger
	throttle *resilience.Throttle

	tlsCtx atomic.Pointer[security.ResolvedContext]
	active atomic.Int64

	mu     sync.Mutex
	ln     net.Listener
	offer  *negotiation.Offer
	cancel context.CancelFunc
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

var (
	_ component.Component   = (*Listener)(nil)
	_ component.Describable = (*Listener)(nil)
)

// New creates a listener for cfg serving domain.
func New(cfg Config, domain mechanism.SecurityDomain, opts ...Option) (*Listener, error) {
	if cfg.TLS != nil {
		tc := *cfg.TLS
		cfg.TLS = &tc
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("listener %s: %w", cfg.Name, err)
	}
	if domain == nil {
		return nil, fmt.Errorf("listener %s: no security domain", cfg.Name)
	}

	l := &Listener{
		cfg:    cfg,
		domain: domain,
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get("listener")
	}
	l.log = l.log.WithFields(logger.Fields(logger.FieldListener, cfg.Name))
	if l.catalog == nil {
		l.catalog = mechanism.Default()
	}
	if l.resolver == nil && cfg.TLS != nil {
		l.resolver = security.NewResolver()
	}
	if l.codec == nil {
		l.codec = func(c net.Conn) negotiation.FrameConn { return wire.NewConn(c) }
	}
	if l.auditor == nil {
		l.auditor = negotiation.NewLogAuditor(nil)
	}
	if l.metrics == nil {
		l.metrics = observability.DefaultMetrics()
	}
	if l.handler == nil {
		l.handler = HandlerFunc(func(context.Context, net.Conn, mechanism.Identity) {})
	}
	if cfg.NegotiationRate > 0 {
		l.throttle = resilience.NewThrottle(resilience.ThrottleConfig{
			Name:  cfg.Name,
			Rate:  cfg.NegotiationRate,
			Burst: cfg.NegotiationBurst,
		})
	}
	return l, nil
}

// Name implements component.Component.
func (l *Listener) Name() string { return l.cfg.Name }

// Config returns the effective configuration.
func (l *Listener) Config() Config { return l.cfg }

// Start resolves the transport-security context, fixes the advertised
// mechanisms and begins accepting.
func (l *Listener) Start(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, observability.SpanListenerStart)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrListener, l.cfg.Name)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return fmt.Errorf("listener %s: already started", l.cfg.Name)
	}

	if l.cfg.TLS != nil {
		rc, err := l.resolver.Resolve(ctx, *l.cfg.TLS)
		if err != nil {
			return l.startFailed(ctx, err)
		}
		l.tlsCtx.Store(rc)
	}

	offer, err := negotiation.NewOffer(ctx, l.catalog, l.cfg.Mechanisms, l.domain)
	if err != nil {
		return l.startFailed(ctx, err)
	}
	if len(offer.Names()) == 0 {
		return l.startFailed(ctx, errors.NoProviderFound(mechanism.CapabilityName).
			WithDetail("domain", l.domain.Name()))
	}

	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return l.startFailed(ctx, err)
	}
	if l.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, l.cfg.MaxConnections)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.ln = ln
	l.offer = offer
	l.cancel = cancel
	l.wg.Add(1)
	go l.serve(loopCtx, ln)

	fields := logger.Fields(
		"address", ln.Addr().String(),
		logger.FieldMechanisms, offer.Names(),
		"tls", l.cfg.TLS != nil,
	)
	if rc := l.tlsCtx.Load(); rc != nil {
		fields[logger.FieldFingerprint] = rc.Fingerprint.Short()
		fields[logger.FieldGeneration] = rc.Generation
	}
	l.log.Info("listener started", fields)
	return nil
}

// startFailed tags err with the listener name. AppErrors are copied since
// a failed context build is shared by every listener that waited on it.
func (l *Listener) startFailed(ctx context.Context, err error) error {
	observability.SetSpanError(ctx, err)
	l.log.Error("listener start failed", logger.Fields(logger.FieldError, err.Error()))

	if appErr, ok := errors.AsAppError(err); ok {
		tagged := *appErr
		tagged.Details = maps.Clone(appErr.Details)
		tagged.WithDetail("listener", l.cfg.Name)
		return fmt.Errorf("listener %s: %w", l.cfg.Name, &tagged)
	}
	return fmt.Errorf("listener %s: %w", l.cfg.Name, err)
}

// RefreshContext resolves the transport-security context again, typically
// after the resolver was invalidated for credential rotation. New
// connections use the refreshed context; established ones keep theirs.
func (l *Listener) RefreshContext(ctx context.Context) error {
	if l.cfg.TLS == nil {
		return nil
	}
	rc, err := l.resolver.Resolve(ctx, *l.cfg.TLS)
	if err != nil {
		l.log.Error("context refresh failed, keeping current context", logger.Fields(logger.FieldError, err.Error()))
		return err
	}
	if old := l.tlsCtx.Swap(rc); old == nil || old.Generation != rc.Generation {
		l.log.Info("transport-security context refreshed", logger.Fields(
			logger.FieldFingerprint, rc.Fingerprint.Short(),
			logger.FieldGeneration, rc.Generation,
		))
	}
	return nil
}

// Context returns the transport-security context used for new
// connections, nil for plaintext listeners or before Start.
func (l *Listener) Context() *security.ResolvedContext { return l.tlsCtx.Load() }

// Advertised returns the advertised mechanism names, nil before Start.
func (l *Listener) Advertised() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offer == nil {
		return nil
	}
	return l.offer.Names()
}

// Addr returns the bound address, nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ActiveConnections returns the number of open connections.
func (l *Listener) ActiveConnections() int64 { return l.active.Load() }

// Stop closes the listener, aborts negotiations in progress and waits for
// connection goroutines. Connections still open when ctx ends are closed.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	ln, cancel := l.ln, l.cancel
	l.mu.Unlock()
	if ln == nil {
		return nil
	}

	cancel()
	err := ln.Close()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.closeConns()
		<-done
	}

	l.mu.Lock()
	l.ln = nil
	l.mu.Unlock()
	l.log.Info("listener stopped")
	if err != nil && !stderrors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Health implements component.Component.
func (l *Listener) Health(context.Context) component.Health {
	h := component.Health{Name: l.cfg.Name, Status: component.StatusHealthy}
	if l.Addr() == nil {
		h.Status = component.StatusUnhealthy
		h.Message = "not accepting"
		return h
	}
	h.Message = fmt.Sprintf("%d active connections", l.ActiveConnections())
	return h
}

// Describe implements component.Describable.
func (l *Listener) Describe() component.Description {
	details := l.cfg.Address
	if l.cfg.TLS != nil {
		details += " tls"
	}
	if names := l.Advertised(); names != nil {
		details += " mechanisms=" + strings.Join(names, ",")
	}
	return component.Description{Name: l.cfg.Name, Type: "listener", Details: details}
}

func (l *Listener) serve(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				l.log.Warn("accept failed, retrying", logger.Fields(
					logger.FieldError, err.Error(),
					"backoff_ms", backoff.Milliseconds(),
				))
				time.Sleep(backoff)
				continue
			}
			l.log.Error("accept failed", logger.Fields(logger.FieldError, err.Error()))
			return
		}
		backoff = 0

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, raw net.Conn) {
	defer l.wg.Done()

	l.track(raw, true)
	l.active.Add(1)
	l.metrics.RecordConnectionOpen(ctx, l.cfg.Name)
	defer func() {
		_ = raw.Close()
		l.track(raw, false)
		l.active.Add(-1)
		l.metrics.RecordConnectionClose(ctx, l.cfg.Name)
	}()

	info := mechanism.ConnectionInfo{
		ID:         uuid.NewString(),
		Listener:   l.cfg.Name,
		RemoteAddr: raw.RemoteAddr().String(),
	}
	log := l.log.WithFields(logger.Fields(
		logger.FieldConnectionID, info.ID,
		logger.FieldRemoteAddr, info.RemoteAddr,
	))

	if l.throttle != nil && !l.throttle.Allow() {
		log.Warn("negotiation rate exceeded, closing connection")
		return
	}

	conn := raw
	if rc := l.tlsCtx.Load(); rc != nil {
		tc := tls.Server(raw, rc.Config)
		hctx, cancel := context.WithTimeout(ctx, l.cfg.Negotiation.Timeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			log.Debug("tls handshake failed", logger.Fields(logger.FieldError, err.Error()))
			return
		}
		state := tc.ConnectionState()
		info.TLS = &state
		conn = tc
	}

	session := negotiation.NewSession(info, l.domain, l.offer,
		negotiation.WithConfig(l.cfg.Negotiation),
		negotiation.WithAuditor(l.auditor),
		negotiation.WithMetrics(l.metrics),
		negotiation.WithLogger(l.log),
	)
	id, err := session.Run(ctx, l.codec(conn))
	if err != nil {
		log.Debug("connection closed after failed negotiation", logger.Fields(logger.FieldReason, reasonOf(err)))
		return
	}

	log.Debug("connection authenticated", logger.Fields(logger.FieldMechanism, session.Mechanism()))
	l.handler.ServeAuthenticated(ctx, conn, id)
}

func (l *Listener) track(c net.Conn, add bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if add {
		l.conns[c] = struct{}{}
	} else {
		delete(l.conns, c)
	}
}

func (l *Listener) closeConns() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		_ = c.Close()
	}
}

func reasonOf(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return string(appErr.Code)
	}
	return err.Error()
}
