// Package listener binds a network address, secures accepted connections
// with a shared transport-security context and runs one negotiation
// session per connection.
//
// A listener is a component.Component. Start is where fatal
// misconfiguration surfaces: an unbuildable TLS context, an allow-list
// naming a mechanism that is not installed, or nothing to advertise.
//
//	l, err := listener.New(listener.Config{
//	    Name:       "amqps",
//	    Address:    ":5671",
//	    TLS:        &security.TransportConfig{KeystorePath: "/etc/broker/keystore.pem"},
//	    Mechanisms: []string{"EXTERNAL", "PLAIN"},
//	}, dom, listener.WithResolver(resolver), listener.WithHandler(broker))
//	if err != nil {
//	    return err
//	}
//	if err := l.Start(ctx); err != nil {
//	    return err // errors.IsFatal(err) for configuration faults
//	}
package listener
