// Package provider implements generic, priority-ordered discovery of the
// installed implementations of a capability interface.
//
// A Catalog[T] collects implementations from an explicit registration table
// and optional load-time Sources, then orders them once:
//
//   - primary key: Priority, descending (higher wins)
//   - tie-break: discovery order, ascending (first discovered wins)
//
// Discovery happens exactly once per catalog. Catalogs used by the broker
// are package-level values, created at init time and torn down only at
// process exit, so the discovered order is stable for the life of the
// process.
//
// # Usage
//
//	var Factories = provider.NewCatalog[Factory]("tls-context", provider.Required())
//
//	func init() {
//	    Factories.Register("file", 0, fileFactory{})
//	}
//
//	d, ok, err := Factories.Select(ctx)
package provider
