package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/logger"
)

// CatalogOption configures a Catalog.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	required bool
}

// Required marks the capability as needing at least one implementation.
// Discovery of a required capability that finds nothing fails with
// NoProviderFound.
func Required() CatalogOption {
	return func(o *catalogOptions) { o.required = true }
}

// Catalog discovers every installed implementation of capability T and
// exposes them ordered by priority, highest first.
//
// Implementations are installed through an explicit registration table
// (Register, typically from init functions) and optional Sources for
// load-time scans. Discovery runs once on first use; the result is cached
// for the remaining life of the process and is safe for concurrent reads.
type Catalog[T any] struct {
	capability string
	required   bool
	log        *logger.Logger

	mu      sync.Mutex
	table   []Registration[T]
	sources []Source[T]
	sealed  bool

	once       sync.Once
	discovered []Descriptor[T]
	byName     map[string]Descriptor[T]
	err        error
}

// NewCatalog creates an empty catalog for the named capability.
func NewCatalog[T any](capability string, opts ...CatalogOption) *Catalog[T] {
	var o catalogOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Catalog[T]{
		capability: capability,
		required:   o.required,
		log:        logger.Get("provider"),
	}
}

// Capability returns the capability name.
func (c *Catalog[T]) Capability() string { return c.capability }

// IsRequired reports whether the capability needs at least one implementation.
func (c *Catalog[T]) IsRequired() bool { return c.required }

// Register installs an implementation in the registration table.
// It panics if the name is already registered or discovery already ran,
// in the same way database/sql.Register does.
func (c *Catalog[T]) Register(name string, priority int, impl T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		panic(fmt.Sprintf("provider: Register %q on %s after discovery", name, c.capability))
	}
	for _, r := range c.table {
		if r.Name == name {
			panic(fmt.Sprintf("provider: Register called twice for %q on %s", name, c.capability))
		}
	}
	c.table = append(c.table, Registration[T]{Name: name, Priority: priority, Provider: impl})
}

// AddSource adds a discovery source. Sources are consulted after the
// registration table, in the order they were added.
func (c *Catalog[T]) AddSource(src Source[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		panic(fmt.Sprintf("provider: AddSource on %s after discovery", c.capability))
	}
	c.sources = append(c.sources, src)
}

// Discover returns every installed implementation ordered by priority
// descending, ties broken by discovery order. The first call performs
// discovery; later calls return the cached result. The outcome is kept
// for the process, so sources see ctx's values but not its cancellation.
func (c *Catalog[T]) Discover(ctx context.Context) ([]Descriptor[T], error) {
	c.once.Do(func() { c.discover(context.WithoutCancel(ctx)) })
	if c.err != nil {
		return nil, c.err
	}
	out := make([]Descriptor[T], len(c.discovered))
	copy(out, c.discovered)
	return out, nil
}

// Select returns the highest-priority implementation. ok is false when
// the capability is optional and nothing was discovered, leaving the
// fallback decision to the caller.
func (c *Catalog[T]) Select(ctx context.Context) (d Descriptor[T], ok bool, err error) {
	ds, err := c.Discover(ctx)
	if err != nil {
		return d, false, err
	}
	if len(ds) == 0 {
		return d, false, nil
	}
	return ds[0], true, nil
}

// Lookup returns the implementation registered under name.
func (c *Catalog[T]) Lookup(ctx context.Context, name string) (Descriptor[T], bool, error) {
	if _, err := c.Discover(ctx); err != nil {
		var zero Descriptor[T]
		return zero, false, err
	}
	d, ok := c.byName[name]
	return d, ok, nil
}

func (c *Catalog[T]) discover(ctx context.Context) {
	c.mu.Lock()
	c.sealed = true
	regs := make([]Registration[T], len(c.table))
	copy(regs, c.table)
	sources := c.sources
	c.mu.Unlock()

	for _, src := range sources {
		found, err := src(ctx)
		if err != nil {
			c.err = fmt.Errorf("provider: discover %s: %w", c.capability, err)
			c.log.Error("provider discovery failed", logger.Fields(
				"capability", c.capability,
				logger.FieldError, err.Error(),
			))
			return
		}
		regs = append(regs, found...)
	}

	c.byName = make(map[string]Descriptor[T], len(regs))
	ds := make([]Descriptor[T], 0, len(regs))
	for i, r := range regs {
		if _, dup := c.byName[r.Name]; dup {
			c.log.Warn("duplicate provider ignored", logger.Fields(
				"capability", c.capability,
				logger.FieldProvider, r.Name,
			))
			continue
		}
		d := Descriptor[T]{Name: r.Name, Priority: r.Priority, Order: i, Provider: r.Provider}
		c.byName[r.Name] = d
		ds = append(ds, d)
	}
	order(ds)
	c.discovered = ds

	if len(ds) == 0 && c.required {
		c.err = errors.NoProviderFound(c.capability)
		return
	}

	c.log.Info("providers discovered", logger.Fields(
		"capability", c.capability,
		"providers", Names(ds),
	))
}
