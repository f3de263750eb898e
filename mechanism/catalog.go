package mechanism

import (
	"context"
	"sort"
	"strings"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/provider"
)

// CapabilityName is the provider capability for mechanism factories.
const CapabilityName = "sasl-mechanism"

// Factories is the process-wide catalog of mechanism factories. The
// built-in mechanisms register themselves from init.
var Factories = provider.NewCatalog[Factory](CapabilityName)

// Register installs f in Factories under its descriptor name, using its
// precedence as the provider priority.
func Register(f Factory) {
	d := f.Descriptor()
	Factories.Register(d.Name, d.Precedence, f)
}

// Catalog answers which mechanisms a listener advertises.
type Catalog struct {
	factories *provider.Catalog[Factory]
}

// NewCatalog wraps a factory catalog.
func NewCatalog(factories *provider.Catalog[Factory]) *Catalog {
	return &Catalog{factories: factories}
}

// Default returns a Catalog over Factories.
func Default() *Catalog {
	return NewCatalog(Factories)
}

// Discovered returns every installed mechanism ordered by precedence
// descending, then name ascending.
func (c *Catalog) Discovered(ctx context.Context) ([]Descriptor, error) {
	ds, err := c.factories.Discover(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(ds))
	for _, d := range ds {
		desc := d.Provider.Descriptor()
		desc.Name = d.Name
		out = append(out, desc)
	}
	sortDescriptors(out)
	return out, nil
}

// Advertised returns the mechanisms to offer. With an empty allow-list it
// returns the default-permitted mechanisms; otherwise exactly the listed
// ones, whatever their default, failing with UnknownMechanism for a name
// that was not discovered. Names are matched case-insensitively and
// duplicates collapse.
func (c *Catalog) Advertised(ctx context.Context, allowList []string) ([]Descriptor, error) {
	all, err := c.Discovered(ctx)
	if err != nil {
		return nil, err
	}

	if len(allowList) == 0 {
		out := make([]Descriptor, 0, len(all))
		for _, d := range all {
			if d.DefaultPermitted {
				out = append(out, d)
			}
		}
		return out, nil
	}

	byName := make(map[string]Descriptor, len(all))
	for _, d := range all {
		byName[d.Name] = d
	}
	seen := make(map[string]bool, len(allowList))
	out := make([]Descriptor, 0, len(allowList))
	for _, name := range allowList {
		name = Normalize(name)
		if seen[name] {
			continue
		}
		d, ok := byName[name]
		if !ok {
			return nil, errors.UnknownMechanism(name)
		}
		seen[name] = true
		out = append(out, d)
	}
	sortDescriptors(out)
	return out, nil
}

// FactoryFor returns the factory registered under name.
func (c *Catalog) FactoryFor(ctx context.Context, name string) (Factory, error) {
	d, ok, err := c.factories.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.UnknownMechanism(name)
	}
	return d.Provider, nil
}

// Normalize canonicalizes a configured mechanism name.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Names returns the names of ds in order.
func Names(ds []Descriptor) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}

func sortDescriptors(ds []Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Precedence != ds[j].Precedence {
			return ds[i].Precedence > ds[j].Precedence
		}
		return ds[i].Name < ds[j].Name
	})
}
