package component

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
)

// mockComponent implements Component for testing.
type mockComponent struct {
	name       string
	startErr   error
	stopErr    error
	health     Health
	startOrder *[]string
	stopOrder  *[]string
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	if m.startOrder != nil {
		*m.startOrder = append(*m.startOrder, m.name)
	}
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	if m.stopOrder != nil {
		*m.stopOrder = append(*m.stopOrder, m.name)
	}
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) Health {
	return m.health
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "amqps", health: Health{Name: "amqps", Status: StatusHealthy}}

	if err := r.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "amqps"}
	r.Register(c)

	err := r.Register(&mockComponent{name: "amqps"})
	if err == nil {
		t.Error("expected error for duplicate registration")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "amqps"}
	r.Register(c)

	got := r.Get("amqps")
	if got == nil {
		t.Fatal("expected to get registered component")
	}
	if got.Name() != "amqps" {
		t.Errorf("expected 'amqps', got %q", got.Name())
	}
}

func TestGetNotFound(t *testing.T) {
	r := NewRegistry()
	got := r.Get("missing")
	if got != nil {
		t.Error("expected nil for unregistered component")
	}
}

func TestStartAll(t *testing.T) {
	r := NewRegistry()
	order := []string{}

	r.Register(&mockComponent{
		name: "amqps", startOrder: &order,
		health: Health{Name: "amqps", Status: StatusHealthy},
	})
	r.Register(&mockComponent{
		name: "admin", startOrder: &order,
		health: Health{Name: "admin", Status: StatusHealthy},
	})

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	if len(order) != 2 {
		t.Fatalf("expected 2 starts, got %d", len(order))
	}
	if order[0] != "amqps" || order[1] != "admin" {
		t.Errorf("expected start order [amqps, admin], got %v", order)
	}
}

func TestStartAllError(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{name: "amqps", startErr: fmt.Errorf("context build failed")})

	err := r.StartAll(context.Background())
	if err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestStopAllReverseOrder(t *testing.T) {
	r := NewRegistry()
	order := []string{}

	r.Register(&mockComponent{name: "amqps", stopOrder: &order, health: Health{Name: "amqps", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "admin", stopOrder: &order, health: Health{Name: "admin", Status: StatusHealthy}})
	r.Register(&mockComponent{name: "mqtts", stopOrder: &order, health: Health{Name: "mqtts", Status: StatusHealthy}})

	r.StartAll(context.Background())
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("expected 3 stops, got %d", len(order))
	}
	if order[0] != "mqtts" || order[1] != "admin" || order[2] != "amqps" {
		t.Errorf("expected reverse stop order [mqtts, admin, amqps], got %v", order)
	}
}

func TestStopAllSkipsUnstarted(t *testing.T) {
	r := NewRegistry()
	order := []string{}
	r.Register(&mockComponent{name: "amqps", stopOrder: &order})

	// Don't start, then stop
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if len(order) != 0 {
		t.Errorf("expected 0 stops for unstarted components, got %d", len(order))
	}
}

func TestStopAllWithErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{
		name: "amqps", stopErr: fmt.Errorf("stop failed"),
		health: Health{Name: "amqps", Status: StatusHealthy},
	})
	r.StartAll(context.Background())

	err := r.StopAll(context.Background())
	if err == nil {
		t.Error("expected error from StopAll")
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockComponent{
		name:   "amqps",
		health: Health{Name: "amqps", Status: StatusHealthy, Message: "connected"},
	})
	r.Register(&mockComponent{
		name:   "admin",
		health: Health{Name: "admin", Status: StatusUnhealthy, Message: "timeout"},
	})

	results := r.HealthAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusHealthy {
		t.Errorf("expected amqps healthy, got %s", results[0].Status)
	}
	if results[1].Status != StatusUnhealthy {
		t.Errorf("expected admin unhealthy, got %s", results[1].Status)
	}
}

func TestHealthStatusConstants(t *testing.T) {
	if StatusHealthy != "healthy" {
		t.Errorf("expected 'healthy', got %q", StatusHealthy)
	}
	if StatusUnhealthy != "unhealthy" {
		t.Errorf("expected 'unhealthy', got %q", StatusUnhealthy)
	}
	if StatusDegraded != "degraded" {
		t.Errorf("expected 'degraded', got %q", StatusDegraded)
	}
}

type describedComponent struct {
	mockComponent
	desc Description
}

func (d *describedComponent) Describe() Description { return d.desc }

func TestDescribe(t *testing.T) {
	r := NewRegistry()
	r.Register(&describedComponent{
		mockComponent: mockComponent{name: "amqps"},
		desc:          Description{Type: "listener", Details: "0.0.0.0:5671 tls"},
	})
	r.Register(&mockComponent{name: "admin"})

	ds := r.Describe()
	if len(ds) != 2 {
		t.Fatalf("expected 2 descriptions, got %d", len(ds))
	}
	if ds[0].Name != "amqps" || ds[0].Type != "listener" {
		t.Errorf("expected described listener with fallback name, got %+v", ds[0])
	}
	if ds[1].Name != "admin" || ds[1].Type != "" {
		t.Errorf("expected bare description for admin, got %+v", ds[1])
	}
}

func TestStartAllTagsFatalErrorWithComponent(t *testing.T) {
	shared := errors.ContextBuildFailed("ab12cd34", fmt.Errorf("bad keystore password"))
	r := NewRegistry(WithRegistryLogger(logger.NewNop()))
	r.Register(&mockComponent{name: "amqps", startErr: shared})

	err := r.StartAll(context.Background())
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected an AppError, got %v", err)
	}
	if !appErr.Fatal || appErr.Details["component"] != "amqps" {
		t.Errorf("expected a fatal error tagged with amqps, got %+v", appErr)
	}
	if _, tagged := shared.Details["component"]; tagged {
		t.Error("expected the shared error to stay untouched")
	}
	if state, _ := r.State("amqps"); state != StateFailed {
		t.Errorf("expected failed state, got %q", state)
	}
}

func TestHealthAllReportsStartFailure(t *testing.T) {
	r := NewRegistry(WithRegistryLogger(logger.NewNop()))
	r.Register(&mockComponent{name: "amqp", health: Health{Name: "amqp", Status: StatusHealthy}})
	r.Register(&mockComponent{
		name: "amqps", startErr: fmt.Errorf("bind: address in use"),
		health: Health{Name: "amqps", Status: StatusHealthy},
	})
	_ = r.StartAll(context.Background())

	results := r.HealthAll(context.Background())
	if results[0].Status != StatusHealthy {
		t.Errorf("expected amqp healthy, got %s", results[0].Status)
	}
	if results[1].Status != StatusUnhealthy || !strings.Contains(results[1].Message, "address in use") {
		t.Errorf("expected amqps unhealthy with the start error, got %+v", results[1])
	}
}

func TestStateTransitions(t *testing.T) {
	r := NewRegistry(WithRegistryLogger(logger.NewNop()), WithStopTimeout(time.Second))
	r.Register(&mockComponent{name: "admin"})

	if state, ok := r.State("admin"); !ok || state != StateRegistered {
		t.Errorf("expected registered, got %q", state)
	}
	_ = r.StartAll(context.Background())
	if state, _ := r.State("admin"); state != StateRunning {
		t.Errorf("expected running, got %q", state)
	}
	_ = r.StopAll(context.Background())
	if state, _ := r.State("admin"); state != StateStopped {
		t.Errorf("expected stopped, got %q", state)
	}
	if _, ok := r.State("missing"); ok {
		t.Error("expected unknown component to be reported")
	}
}
