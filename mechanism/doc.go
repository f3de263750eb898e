// Package mechanism holds the authentication mechanism catalog and the
// built-in mechanisms.
//
// Mechanisms are discovered through the provider package. Each factory
// carries a Descriptor with its name, precedence and whether it is
// advertised by default:
//
//	cat := mechanism.Default()
//	offered, err := cat.Advertised(ctx, listenerCfg.Mechanisms)
//
// Built-ins: EXTERNAL (20), ANONYMOUS (10, opt-in only), OAUTHBEARER (5)
// and PLAIN (0). Mechanisms only frame and parse messages; credentials are
// checked by the SecurityDomain passed to Factory.New.
package mechanism
