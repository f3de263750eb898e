package provider

import "sort"

// order sorts descriptors by priority descending, then discovery order
// ascending. The sort key lives here so provider types stay free of any
// comparison semantics.
func order[T any](ds []Descriptor[T]) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority > ds[j].Priority
		}
		return ds[i].Order < ds[j].Order
	})
}

// Names returns the names of the descriptors in their current order.
func Names[T any](ds []Descriptor[T]) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}
