// Package component defines the lifecycle interface shared by the
// daemon's long-running parts and a Registry that starts them in
// registration order and stops them in reverse.
//
// A component whose Start fails stops startup: a listener that cannot
// resolve its transport-security context or whose mechanism allow-list
// names an unknown mechanism never accepts connections.
package component
