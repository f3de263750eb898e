package negotiation

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/mechanism"
	"github.com/kbukum/brokersec/observability"
)

// ErrFinished is returned for frames that arrive after the session reached
// a terminal state. The frame is dropped without touching the mechanism.
var ErrFinished = stderrors.New("negotiation: session already finished")

// OutcomeAuthenticated is the metric outcome for a successful negotiation.
const OutcomeAuthenticated = "authenticated"

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the round limit and timeout.
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithAuditor sets the audit sink. Defaults to a LogAuditor.
func WithAuditor(a Auditor) Option {
	return func(s *Session) { s.auditor = a }
}

// WithMetrics sets the metric instruments. Defaults to observability.DefaultMetrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is the per-connection authentication state machine:
//
//	Advertising -> MechanismSelected -> Challenging <-> Responding -> Authenticated
//
// with Failed reachable from every non-terminal state. A session owns at
// most one mechanism instance and disposes it on reaching a terminal state.
// Frames are processed one at a time in arrival order.
type Session struct {
	id      string
	conn    mechanism.ConnectionInfo
	domain  mechanism.SecurityDomain
	offer   *Offer
	cfg     Config
	auditor Auditor
	metrics *observability.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	advertised bool
	selected   string
	mech       mechanism.Mechanism
	rounds     int
	identity   mechanism.Identity
	err        error
	started    time.Time
}

// NewSession creates a session in the Advertising state.
func NewSession(conn mechanism.ConnectionInfo, domain mechanism.SecurityDomain, offer *Offer, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		domain: domain,
		offer:  offer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.ApplyDefaults()
	if s.log == nil {
		s.log = logger.Get("negotiation")
	}
	if s.auditor == nil {
		s.auditor = NewLogAuditor(nil)
	}
	if s.metrics == nil {
		s.metrics = observability.DefaultMetrics()
	}
	s.log = s.log.WithFields(logger.Fields(
		"session_id", s.id,
		logger.FieldListener, conn.Listener,
		logger.FieldConnectionID, conn.ID,
	))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mechanism returns the selected mechanism name, empty before selection.
func (s *Session) Mechanism() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Rounds returns the number of mechanism steps run so far.
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

// Identity returns the authenticated identity once the session is Authenticated.
func (s *Session) Identity() (mechanism.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.state == Authenticated
}

// Err returns the failure reason once the session is Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Advertise returns the mechanism names to send to the peer. It is only
// meaningful in the Advertising state; the first call starts the clock.
func (s *Session) Advertise(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := s.offer.Names()
	if s.advertised || s.state != Advertising {
		return names
	}
	s.advertised = true
	s.started = s.now()
	s.metrics.RecordNegotiationStart(ctx, s.conn.Listener)
	s.audit(ctx, Event{Kind: EventAdvertised, Mechanisms: names})
	return names
}

// Select handles the peer's mechanism choice and its optional initial
// response (nil when the peer sent none). A name that was not advertised
// fails with MechanismNotPermitted and nothing is instantiated.
func (s *Session) Select(ctx context.Context, name string, initial []byte) (mechanism.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		s.dropLate("select")
		return mechanism.Result{}, ErrFinished
	}
	if s.state != Advertising {
		return mechanism.Result{}, s.fail(ctx, errors.AuthenticationRejected(
			fmt.Errorf("mechanism selection in state %s", s.state)))
	}
	if !s.advertised {
		s.advertised = true
		s.started = s.now()
		s.metrics.RecordNegotiationStart(ctx, s.conn.Listener)
	}

	f, ok := s.offer.factory(name)
	if !ok {
		s.audit(ctx, Event{Kind: EventNotPermitted, Mechanism: name})
		return mechanism.Result{}, s.fail(ctx, errors.MechanismNotPermitted(name))
	}
	s.selected = name
	s.state = MechanismSelected
	s.log.Debug("mechanism selected", logger.Fields(logger.FieldMechanism, name))

	m, err := f.New(s.conn, s.domain)
	if err != nil {
		return mechanism.Result{}, s.fail(ctx, errors.AuthenticationRejected(err))
	}
	s.mech = m
	return s.step(ctx, initial)
}

// Respond feeds the peer's answer to the last challenge.
func (s *Session) Respond(ctx context.Context, response []byte) (mechanism.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		s.dropLate("respond")
		return mechanism.Result{}, ErrFinished
	}
	if s.state != Responding {
		return mechanism.Result{}, s.fail(ctx, errors.AuthenticationRejected(
			fmt.Errorf("response in state %s", s.state)))
	}
	if response == nil {
		response = []byte{}
	}
	return s.step(ctx, response)
}

// Abort fails the session with NegotiationAborted. It is a no-op once the
// session is terminal.
func (s *Session) Abort(ctx context.Context, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return s.err
	}
	return s.fail(ctx, errors.NegotiationAborted(cause))
}

// Reject fails the session with AuthenticationRejected, for peers that
// broke the framing rules. It is a no-op once the session is terminal.
func (s *Session) Reject(ctx context.Context, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return s.err
	}
	return s.fail(ctx, errors.AuthenticationRejected(cause))
}

// Close aborts a session that has not finished and releases its mechanism.
func (s *Session) Close() {
	_ = s.Abort(context.Background(), nil)
}

// step runs one mechanism round. Callers hold s.mu.
func (s *Session) step(ctx context.Context, resp []byte) (mechanism.Result, error) {
	s.state = Challenging
	s.rounds++

	res, err := s.mech.Step(ctx, resp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return mechanism.Result{}, s.fail(ctx, errors.NegotiationAborted(ctxErr))
		}
		return mechanism.Result{}, s.fail(ctx, errors.AuthenticationRejected(err))
	}
	if res.Done {
		s.identity = res.Identity
		s.finish(ctx, Authenticated, nil)
		s.audit(ctx, Event{Kind: EventAuthenticated, Mechanism: s.selected})
		return res, nil
	}
	if s.rounds >= s.cfg.MaxRounds {
		return mechanism.Result{}, s.fail(ctx, errors.AuthenticationRejected(
			fmt.Errorf("round limit %d exceeded", s.cfg.MaxRounds)))
	}
	if res.Challenge == nil {
		res.Challenge = []byte{}
	}
	s.state = Responding
	return res, nil
}

// fail moves to Failed. Callers hold s.mu.
func (s *Session) fail(ctx context.Context, appErr *errors.AppError) error {
	s.err = appErr
	s.finish(ctx, Failed, appErr)
	if appErr.Code != errors.ErrCodeMechanismNotPermitted {
		s.audit(ctx, Event{Kind: EventFailed, Mechanism: s.selected, Reason: appErr.Code})
	}
	return appErr
}

func (s *Session) finish(ctx context.Context, state State, appErr *errors.AppError) {
	s.state = state
	if s.mech != nil {
		s.mech.Dispose()
		s.mech = nil
	}

	outcome := OutcomeAuthenticated
	fields := logger.Fields(
		logger.FieldMechanism, s.selected,
		logger.FieldState, state.String(),
		"rounds", s.rounds,
	)
	if appErr != nil {
		outcome = string(appErr.Code)
		fields[logger.FieldReason] = outcome
		if appErr.Cause != nil {
			fields[logger.FieldError] = appErr.Cause.Error()
		}
	}
	if s.advertised {
		s.metrics.RecordNegotiationEnd(ctx, s.conn.Listener, s.selected, outcome, s.now().Sub(s.started))
	}
	s.log.Debug("negotiation finished", fields)
}

func (s *Session) dropLate(frame string) {
	s.log.Debug("late frame dropped", logger.Fields(
		"frame", frame,
		logger.FieldState, s.state.String(),
	))
}

func (s *Session) audit(ctx context.Context, e Event) {
	e.Listener = s.conn.Listener
	e.ConnectionID = s.conn.ID
	e.RemoteAddr = s.conn.RemoteAddr
	s.auditor.Audit(ctx, e)
}
