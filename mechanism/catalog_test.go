package mechanism

import (
	"context"
	"reflect"
	"testing"

	"github.com/kbukum/brokersec/errors"
	"github.com/kbukum/brokersec/provider"
)

// stubFactory is a Factory with a fixed descriptor.
type stubFactory struct {
	desc Descriptor
}

func (f stubFactory) Descriptor() Descriptor { return f.desc }

func (f stubFactory) New(ConnectionInfo, SecurityDomain) (Mechanism, error) {
	return &anonymous{}, nil
}

func newStubCatalog(ds ...Descriptor) *Catalog {
	cat := provider.NewCatalog[Factory]("mechanism-test")
	for _, d := range ds {
		cat.Register(d.Name, d.Precedence, stubFactory{desc: d})
	}
	return NewCatalog(cat)
}

func TestCatalog_AdvertisedDefaultPermittedOnly(t *testing.T) {
	// PLAIN (0, permitted) and ANONYMOUS (10, not permitted)
	cat := newStubCatalog(
		Descriptor{Name: "PLAIN", Precedence: 0, DefaultPermitted: true},
		Descriptor{Name: "ANONYMOUS", Precedence: 10, DefaultPermitted: false},
	)

	got, err := cat.Advertised(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names := Names(got); !reflect.DeepEqual(names, []string{"PLAIN"}) {
		t.Errorf("expected [PLAIN], got %v", names)
	}
}

func TestCatalog_AdvertisedExplicitAllowList(t *testing.T) {
	cat := newStubCatalog(
		Descriptor{Name: "PLAIN", Precedence: 0, DefaultPermitted: true},
		Descriptor{Name: "ANONYMOUS", Precedence: 10, DefaultPermitted: false},
		Descriptor{Name: "EXTERNAL", Precedence: 20, DefaultPermitted: true},
	)

	tests := []struct {
		name      string
		allowList []string
		want      []string
	}{
		{"opt-in weak mechanism", []string{"ANONYMOUS"}, []string{"ANONYMOUS"}},
		{"ordered by precedence", []string{"PLAIN", "ANONYMOUS"}, []string{"ANONYMOUS", "PLAIN"}},
		{"case insensitive", []string{"plain", " external "}, []string{"EXTERNAL", "PLAIN"}},
		{"duplicates collapse", []string{"PLAIN", "PLAIN"}, []string{"PLAIN"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := cat.Advertised(context.Background(), tc.allowList)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if names := Names(got); !reflect.DeepEqual(names, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, names)
			}
		})
	}
}

func TestCatalog_AdvertisedUnknownMechanism(t *testing.T) {
	cat := newStubCatalog(Descriptor{Name: "PLAIN", DefaultPermitted: true})

	_, err := cat.Advertised(context.Background(), []string{"PLAIN", "CRAM-MD5"})
	if !errors.HasCode(err, errors.ErrCodeUnknownMechanism) {
		t.Fatalf("expected UNKNOWN_MECHANISM, got %v", err)
	}
	if !errors.IsFatal(err) {
		t.Error("expected unknown allow-listed mechanism to be fatal")
	}
}

func TestCatalog_OrderingPrecedenceThenName(t *testing.T) {
	cat := newStubCatalog(
		Descriptor{Name: "ZETA", Precedence: 5, DefaultPermitted: true},
		Descriptor{Name: "ALPHA", Precedence: 5, DefaultPermitted: true},
		Descriptor{Name: "TOP", Precedence: 50, DefaultPermitted: true},
		Descriptor{Name: "LOW", Precedence: -1, DefaultPermitted: true},
	)

	got, err := cat.Discovered(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"TOP", "ALPHA", "ZETA", "LOW"}
	if names := Names(got); !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestCatalog_FactoryFor(t *testing.T) {
	cat := newStubCatalog(Descriptor{Name: "PLAIN", DefaultPermitted: true})

	f, err := cat.FactoryFor(context.Background(), "PLAIN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Descriptor().Name != "PLAIN" {
		t.Errorf("expected PLAIN factory, got %q", f.Descriptor().Name)
	}

	_, err = cat.FactoryFor(context.Background(), "GSSAPI")
	if !errors.HasCode(err, errors.ErrCodeUnknownMechanism) {
		t.Errorf("expected UNKNOWN_MECHANISM, got %v", err)
	}
}

func TestCatalog_EmptyAdvertisesNothing(t *testing.T) {
	cat := newStubCatalog()
	got, err := cat.Advertised(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected nothing advertised, got %v", Names(got))
	}
}

func TestDefaultCatalogBuiltins(t *testing.T) {
	got, err := Default().Discovered(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Descriptor{
		{Name: ExternalName, Precedence: 20, DefaultPermitted: true},
		{Name: AnonymousName, Precedence: 10, DefaultPermitted: false},
		{Name: OAuthBearerName, Precedence: 5, DefaultPermitted: true},
		{Name: PlainName, Precedence: 0, DefaultPermitted: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	adv, err := Default().Advertised(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantNames := []string{ExternalName, OAuthBearerName, PlainName}
	if names := Names(adv); !reflect.DeepEqual(names, wantNames) {
		t.Errorf("expected %v, got %v", wantNames, names)
	}
}
