package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a lifecycle-managed part of the daemon: a listener, the
// admin server.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start initializes and starts the component. An error returned here
	// is fatal for the component.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component and releases resources.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Description holds summary information for the startup log.
type Description struct {
	// Name is the human-readable display name. If empty, the component's
	// Name() is used.
	Name string `json:"name"`
	// Type categorizes the component: "listener", "admin".
	Type string `json:"type"`
	// Details is a one-liner such as "0.0.0.0:5671 tls mechanisms=EXTERNAL,PLAIN".
	Details string `json:"details,omitempty"`
}

// Describable is optionally implemented by Components to report what
// they are and how they are configured.
type Describable interface {
	Describe() Description
}
