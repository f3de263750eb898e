package negotiation

import (
	"context"
	"fmt"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/mechanism"
)

// Offer is the fixed set of mechanisms a listener advertises, together
// with the factories that serve them. It is computed once per listener
// and shared read-only by its sessions.
type Offer struct {
	descriptors []mechanism.Descriptor
	factories   map[string]mechanism.Factory
}

// NewOffer computes the advertised mechanisms for allowList and checks
// that domain can serve each of them. An explicitly listed mechanism the
// domain cannot serve is fatal; a default one is left out.
func NewOffer(ctx context.Context, catalog *mechanism.Catalog, allowList []string, domain mechanism.SecurityDomain) (*Offer, error) {
	ds, err := catalog.Advertised(ctx, allowList)
	if err != nil {
		return nil, err
	}

	o := &Offer{factories: make(map[string]mechanism.Factory, len(ds))}
	for _, d := range ds {
		f, err := catalog.FactoryFor(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		probe, err := f.New(mechanism.ConnectionInfo{}, domain)
		if err != nil {
			if len(allowList) > 0 {
				return nil, errors.New(errors.ErrCodeUnknownMechanism,
					fmt.Sprintf("Mechanism %s cannot be served by the security domain.", d.Name)).
					WithDetail("mechanism", d.Name).
					WithCause(err)
			}
			continue
		}
		probe.Dispose()
		o.descriptors = append(o.descriptors, d)
		o.factories[d.Name] = f
	}
	return o, nil
}

// Descriptors returns the advertised mechanisms in advertisement order.
func (o *Offer) Descriptors() []mechanism.Descriptor {
	out := make([]mechanism.Descriptor, len(o.descriptors))
	copy(out, o.descriptors)
	return out
}

// Names returns the advertised mechanism names in order.
func (o *Offer) Names() []string {
	return mechanism.Names(o.descriptors)
}

// Permits reports whether name was advertised.
func (o *Offer) Permits(name string) bool {
	_, ok := o.factories[name]
	return ok
}

func (o *Offer) factory(name string) (mechanism.Factory, bool) {
	f, ok := o.factories[name]
	return f, ok
}
