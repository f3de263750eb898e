// Package security resolves transport-security (TLS) contexts for
// listeners.
//
// A TransportConfig names keystore, truststore, CRL and trust policy. The
// Resolver fingerprints it, builds the context once through the
// highest-priority ContextFactory and caches the result until it is
// invalidated:
//
//	r := security.NewResolver()
//	rc, err := r.Resolve(ctx, cfg)
//	ln = tls.NewListener(ln, rc.Config)
//
// Credential rotation calls r.InvalidateAll; connections already using a
// context keep it.
//
// # Providers
//
// Context factories and trust manager plugins are discovered through the
// provider package. The file-based factory is built in at priority 0:
//
//	func init() {
//	    security.ContextFactories.Register("vault", 10, newVaultFactory())
//	    security.TrustManagers.Register("spiffe", 0, spiffeTrust{})
//	}
package security
