package main

import (
	"context"
	"fmt"
	"net"

	"github.com/kbukum/brokersec/admin"
	"github.com/kbukum/brokersec/bootstrap"
	"github.com/kbukum/brokersec/domain"
	"github.com/kbukum/brokersec/listener"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/mechanism"
	"github.com/kbukum/brokersec/negotiation"
	"github.com/kbukum/brokersec/observability"
	"github.com/kbukum/brokersec/security"
)

// daemon holds the pieces shared by every listener of one process.
type daemon struct {
	domain    *domain.MemoryDomain
	resolver  *security.Resolver
	listeners []*listener.Listener
	admin     *admin.Server
}

// build wires the daemon's components into app. Listeners are registered
// in configuration order and the admin server, when enabled, last.
func build(app *bootstrap.App[*DaemonConfig], handler listener.Handler) (*daemon, error) {
	cfg := app.Cfg
	if err := cfg.openSecrets(); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	metrics := observability.DefaultMetrics()

	dom, err := domain.New(cfg.Domain)
	if err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}

	d := &daemon{
		domain: dom,
		resolver: security.NewResolver(
			security.WithMetrics(metrics),
			security.WithLogger(app.Logger.WithComponent("security")),
		),
	}
	if handler == nil {
		handler = logIdentity(app.Logger.WithComponent("handler"))
	}
	auditor := negotiation.NewLogAuditor(app.Logger.WithComponent("audit"))

	adminListeners := make([]admin.Listener, 0, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		l, err := listener.New(lc, dom,
			listener.WithResolver(d.resolver),
			listener.WithHandler(handler),
			listener.WithAuditor(auditor),
			listener.WithMetrics(metrics),
			listener.WithLogger(app.Logger.WithComponent("listener")),
		)
		if err != nil {
			return nil, err
		}
		if err := app.RegisterComponent(l); err != nil {
			return nil, err
		}
		d.listeners = append(d.listeners, l)
		adminListeners = append(adminListeners, l)
	}

	if cfg.Admin.Enabled {
		d.admin = admin.New(cfg.Admin, app.Name,
			admin.WithHealthChecker(app.Components.HealthAll),
			admin.WithResolver(d.resolver),
			admin.WithListeners(adminListeners...),
			admin.WithLogger(app.Logger.WithComponent("admin")),
		)
		if err := app.RegisterComponent(d.admin); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// logIdentity is the handler used when no broker protocol is attached:
// it records the authenticated identity and closes the connection.
func logIdentity(log *logger.Logger) listener.Handler {
	return listener.HandlerFunc(func(_ context.Context, conn net.Conn, id mechanism.Identity) {
		log.Info("connection authenticated", logger.Fields(
			logger.FieldIdentity, id.Name,
			logger.FieldRemoteAddr, conn.RemoteAddr().String(),
		))
	})
}
