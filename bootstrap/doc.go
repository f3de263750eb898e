// Package bootstrap runs the daemon lifecycle: start every registered
// component in order, wait for SIGINT or SIGTERM, then stop them in
// reverse order within a graceful timeout.
//
//	app, err := bootstrap.NewApp(cfg)
//	if err != nil {
//	    return err
//	}
//	_ = app.RegisterComponent(amqps)
//	_ = app.RegisterComponent(adminServer)
//	return app.Run(ctx)
//
// A component whose Start fails aborts startup; components already
// started are stopped before Run returns the error.
package bootstrap
