package negotiation

import (
	"context"
	stderrors "errors"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/mechanism"
	"github.com/kbukum/brokersec/observability"
)

// ErrProtocolViolation is wrapped by FrameConn read errors for frames that
// arrived but break the protocol: the wrong frame type, an oversize frame,
// or a payload that does not decode. Run rejects such peers instead of
// treating them as gone.
var ErrProtocolViolation = stderrors.New("negotiation: protocol violation")

// FrameConn carries negotiation frames for one connection. Protocol codecs
// implement it; blocking calls must return once ctx is done. Read errors
// for malformed frames must wrap ErrProtocolViolation.
type FrameConn interface {
	// SendMechanisms advertises the mechanism names.
	SendMechanisms(ctx context.Context, names []string) error
	// ReadInit reads the peer's mechanism choice. initial is nil when the
	// peer sent no initial response.
	ReadInit(ctx context.Context) (name string, initial []byte, err error)
	SendChallenge(ctx context.Context, challenge []byte) error
	ReadResponse(ctx context.Context) ([]byte, error)
	// SendOutcome reports success (nil) or the failure to the peer.
	SendOutcome(ctx context.Context, err error) error
}

// Run drives the session over fc until it reaches a terminal state and
// returns the authenticated identity. The session is closed on return.
// Transport errors and the configured timeout abort the negotiation;
// protocol violations reject the peer and report the outcome.
func (s *Session) Run(ctx context.Context, fc FrameConn) (mechanism.Identity, error) {
	defer s.Close()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanNegotiation)
	defer span.End()
	observability.SetSpanAttribute(ctx, observability.AttrListener, s.conn.Listener)

	id, err := s.run(ctx, fc)

	observability.SetSpanAttribute(ctx, observability.AttrMechanism, s.Mechanism())
	observability.SetSpanAttribute(ctx, observability.AttrRounds, s.Rounds())
	if err != nil {
		observability.SetSpanAttribute(ctx, observability.AttrOutcome, outcomeOf(err))
		observability.SetSpanError(ctx, err)
		return mechanism.Identity{}, err
	}
	observability.SetSpanAttribute(ctx, observability.AttrOutcome, OutcomeAuthenticated)
	return id, nil
}

func (s *Session) run(ctx context.Context, fc FrameConn) (mechanism.Identity, error) {
	if err := fc.SendMechanisms(ctx, s.Advertise(ctx)); err != nil {
		return mechanism.Identity{}, s.abort(ctx, err)
	}
	var res mechanism.Result
	name, initial, err := fc.ReadInit(ctx)
	if err != nil {
		err = s.readFailed(ctx, err)
	} else {
		res, err = s.Select(ctx, name, initial)
	}
	for err == nil && !res.Done {
		if err := fc.SendChallenge(ctx, res.Challenge); err != nil {
			return mechanism.Identity{}, s.abort(ctx, err)
		}
		resp, rerr := fc.ReadResponse(ctx)
		if rerr != nil {
			err = s.readFailed(ctx, rerr)
			break
		}
		res, err = s.Respond(ctx, resp)
	}

	if errors.HasCode(err, errors.ErrCodeNegotiationAborted) {
		return mechanism.Identity{}, err
	}
	if serr := fc.SendOutcome(ctx, err); serr != nil && err == nil {
		// The peer never learned it was authenticated.
		return mechanism.Identity{}, errors.NegotiationAborted(serr)
	}
	if err != nil {
		return mechanism.Identity{}, err
	}
	return res.Identity, nil
}

// readFailed rejects a peer whose frame broke the protocol and aborts on
// everything else.
func (s *Session) readFailed(ctx context.Context, err error) error {
	if ctx.Err() == nil && stderrors.Is(err, ErrProtocolViolation) {
		return s.Reject(ctx, err)
	}
	return s.abort(ctx, err)
}

// abort fails the session for a transport error, preferring the context
// error when the deadline or the caller ended the negotiation.
func (s *Session) abort(ctx context.Context, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = ctxErr
	}
	return s.Abort(ctx, cause)
}

func outcomeOf(err error) string {
	if appErr, ok := errors.AsAppError(err); ok {
		return string(appErr.Code)
	}
	return observability.StatusError
}
