package bootstrap

import (
	"context"
	"time"

	"github.com/kbukum/brokersec/component"
	"github.com/kbukum/brokersec/logger"
)

// ComponentSummary pairs what a component is with how it is doing.
type ComponentSummary struct {
	component.Description
	Status  component.HealthStatus
	Message string
}

// Summary describes a started application.
type Summary struct {
	Service         string
	Version         string
	StartupDuration time.Duration
	Components      []ComponentSummary
	Healthy         int
}

// NewSummary collects descriptions and live health from registry.
func NewSummary(ctx context.Context, service, version string, startup time.Duration, registry *component.Registry) *Summary {
	s := &Summary{Service: service, Version: version, StartupDuration: startup}
	if registry == nil {
		return s
	}

	descs := registry.Describe()
	for i, c := range registry.All() {
		d, h := descs[i], c.Health(ctx)
		s.Components = append(s.Components, ComponentSummary{Description: d, Status: h.Status, Message: h.Message})
		if h.Status == component.StatusHealthy {
			s.Healthy++
		}
	}
	return s
}

// Log writes one line per component and a closing line.
func (s *Summary) Log(log *logger.Logger) {
	for _, c := range s.Components {
		log.Info("component", logger.Fields(
			logger.FieldComponent, c.Name,
			"type", c.Type,
			"details", c.Details,
			"status", string(c.Status),
		))
	}
	fields := logger.Fields(
		"service", s.Service,
		"version", s.Version,
		"healthy", s.Healthy,
		"total", len(s.Components),
	)
	if s.Healthy == len(s.Components) {
		log.Info("application started", fields, logger.DurationFields("startup", s.StartupDuration))
	} else {
		log.Warn("application started with unhealthy components", fields, logger.DurationFields("startup", s.StartupDuration))
	}
}
