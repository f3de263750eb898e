package negotiation

import (
	"context"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
)

// EventKind names an audit event.
type EventKind string

const (
	EventAdvertised    EventKind = "mechanisms_advertised"
	EventNotPermitted  EventKind = "mechanism_not_permitted"
	EventAuthenticated EventKind = "authentication_succeeded"
	EventFailed        EventKind = "authentication_failed"
)

// Event is one audit record. It never carries credentials or identities.
type Event struct {
	Kind         EventKind
	Listener     string
	ConnectionID string
	RemoteAddr   string
	Mechanism    string
	Mechanisms   []string
	Reason       errors.ErrorCode
}

// Auditor receives negotiation audit events.
type Auditor interface {
	Audit(ctx context.Context, e Event)
}

// AuditorFunc adapts a function to Auditor.
type AuditorFunc func(ctx context.Context, e Event)

// Audit implements Auditor.
func (f AuditorFunc) Audit(ctx context.Context, e Event) { f(ctx, e) }

// LogAuditor writes audit events as structured log lines.
type LogAuditor struct {
	log *logger.Logger
}

// NewLogAuditor creates a LogAuditor. A nil logger uses the "audit" component logger.
func NewLogAuditor(l *logger.Logger) *LogAuditor {
	if l == nil {
		l = logger.Get("audit")
	}
	return &LogAuditor{log: l}
}

// Audit implements Auditor.
func (a *LogAuditor) Audit(_ context.Context, e Event) {
	fields := logger.Fields(
		"event", string(e.Kind),
		logger.FieldListener, e.Listener,
		logger.FieldConnectionID, e.ConnectionID,
		logger.FieldRemoteAddr, e.RemoteAddr,
	)
	if e.Mechanism != "" {
		fields[logger.FieldMechanism] = e.Mechanism
	}
	if e.Mechanisms != nil {
		fields[logger.FieldMechanisms] = e.Mechanisms
	}
	if e.Reason != "" {
		fields[logger.FieldReason] = string(e.Reason)
	}

	switch e.Kind {
	case EventNotPermitted, EventFailed:
		a.log.Warn("audit", fields)
	default:
		a.log.Info("audit", fields)
	}
}
