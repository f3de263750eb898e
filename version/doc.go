// Package version reports build information for the daemon.
//
// Version, commit and build time are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/brokersec/version.Version=1.4.0 \
//	    -X github.com/kbukum/brokersec/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/brokersecd
//
// Unset values fall back to the VCS stamp embedded by the Go toolchain.
package version
