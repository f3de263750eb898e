package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
)

// DefaultStopTimeout bounds the Stop call of a single component.
const DefaultStopTimeout = 10 * time.Second

// State is where a registered component is in its lifecycle.
type State string

const (
	StateRegistered State = "registered"
	StateRunning    State = "running"
	StateFailed     State = "failed"
	StateStopped    State = "stopped"
)

type entry struct {
	c     Component
	state State
	// err is the start failure of a StateFailed component.
	err error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger. Defaults to logger.Get("component").
func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithStopTimeout bounds each component's Stop. Defaults to DefaultStopTimeout.
func WithStopTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// Registry owns the listeners and the admin server of a daemon. They start
// in registration order and stop in reverse, so a listener registered
// before the admin server is still serving while the admin API drains.
//
// A component whose Start fails stays registered in StateFailed and
// reports itself unhealthy with the start error until it is started again.
type Registry struct {
	mu          sync.RWMutex
	entries     []*entry
	byName      map[string]*entry
	log         *logger.Logger
	stopTimeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName:      make(map[string]*entry),
		log:         logger.Get("component"),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds c. Names are unique across listeners and the admin server.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.byName[name]; exists {
		return errors.InvalidInput("component", fmt.Sprintf("%q is already registered", name))
	}
	e := &entry{c: c, state: StateRegistered}
	r.entries = append(r.entries, e)
	r.byName[name] = e

	r.log.Debug("component registered", logger.Fields(logger.FieldComponent, name))
	return nil
}

// StartAll starts every component that is not running, in registration
// order, and stops at the first failure. A failure carrying an AppError
// is returned as a copy tagged with the "component" detail, so the caller
// can tell which listener a shared fatal error stopped.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("starting components", logger.Fields("count", len(r.entries)))
	for _, e := range r.entries {
		if e.state == StateRunning {
			continue
		}
		name := e.c.Name()
		if err := e.c.Start(ctx); err != nil {
			e.state, e.err = StateFailed, err
			fields := logger.Fields(logger.FieldComponent, name, logger.FieldError, err.Error())
			if appErr, ok := errors.AsAppError(err); ok {
				fields[logger.FieldReason] = string(appErr.Code)
			}
			r.log.Error("component start failed", fields)
			return startError(name, err)
		}
		e.state, e.err = StateRunning, nil
		r.log.Debug("component started", logger.Fields(logger.FieldComponent, name))
	}
	return nil
}

func startError(name string, err error) error {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return fmt.Errorf("start %s: %w", name, err)
	}
	tagged := *appErr
	tagged.Details = maps.Clone(appErr.Details)
	tagged.WithDetail("component", name)
	return fmt.Errorf("start %s: %w", name, &tagged)
}

// StopAll stops the running components in reverse registration order,
// giving each at most the stop timeout. Every failure is reported.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.state != StateRunning {
			continue
		}
		name := e.c.Name()
		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		err := e.c.Stop(stopCtx)
		cancel()
		e.state = StateStopped
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			r.log.Error("component stop failed", logger.Fields(
				logger.FieldComponent, name,
				logger.FieldError, err.Error(),
			))
			continue
		}
		r.log.Info("component stopped", logger.Fields(logger.FieldComponent, name))
	}
	return stderrors.Join(errs...)
}

// State returns the lifecycle state of the named component.
func (r *Registry) State(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return e.state, true
}

// HealthAll reports every component in registration order. Components
// that failed to start are unhealthy regardless of what they report.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Health, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == StateFailed {
			out = append(out, Health{
				Name:    e.c.Name(),
				Status:  StatusUnhealthy,
				Message: "start failed: " + e.err.Error(),
			})
			continue
		}
		out = append(out, e.c.Health(ctx))
	}
	return out
}

// Describe returns a Description for every registered component, falling
// back to the component name for components that are not Describable.
func (r *Registry) Describe() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Description, 0, len(r.entries))
	for _, e := range r.entries {
		d := Description{Name: e.c.Name()}
		if dc, ok := e.c.(Describable); ok {
			d = dc.Describe()
			if d.Name == "" {
				d.Name = e.c.Name()
			}
		}
		out = append(out, d)
	}
	return out
}

// Get returns the named component, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[name]; ok {
		return e.c
	}
	return nil
}

// All returns the components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.c
	}
	return out
}
