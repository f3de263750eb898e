package observability

import (
	"context"
	"errors"
	"fmt"
)

// Init starts tracing and metrics export when cfg.Enabled is set and
// returns a function that flushes and stops both providers. With
// telemetry disabled the global no-op providers stay in place.
func Init(ctx context.Context, cfg Config, serviceName string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tp, err := InitTracer(ctx, cfg.Tracer(serviceName))
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	mp, err := InitMeter(ctx, cfg.Meter(serviceName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("observability: %w", err)
	}

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
