// Package negotiation runs the per-connection authentication exchange.
//
// A listener computes an Offer once from its allow-list and security
// domain, then creates one Session per connection:
//
//	offer, err := negotiation.NewOffer(ctx, mechanism.Default(), cfg.Mechanisms, domain)
//	...
//	s := negotiation.NewSession(connInfo, domain, offer, negotiation.WithConfig(cfg.Negotiation))
//	id, err := s.Run(ctx, frameConn)
//
// Sessions only instantiate advertised mechanisms, bound the number of
// rounds, drop frames that arrive after a terminal state and emit audit
// events through an Auditor.
package negotiation
