// Command brokersecd runs the broker listeners with their security
// negotiation and the admin HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kbukum/brokersec/bootstrap"
	"github.com/kbukum/brokersec/config"
	"github.com/kbukum/brokersec/encryption"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/observability"
	"github.com/kbukum/brokersec/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to the configuration file")
	envFile := flag.String("env-file", "", "Path to a .env file")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	seal := flag.String("seal", "", "Print the sealed form of a secret using BROKERSEC_SECRET_KEY and exit")
	flag.Parse()

	info := version.Get()
	if *showVersion {
		fmt.Printf("%s %s (%s)\n", serviceName, info.String(), info.GoVersion)
		return nil
	}
	if *seal != "" {
		return printSealed(*seal)
	}

	opts := []config.LoaderOption{config.WithEnvPrefix("BROKERSEC")}
	if *configPath != "" {
		opts = append(opts, config.WithConfigFile(*configPath))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}
	cfg, err := config.Load[DaemonConfig](serviceName, opts...)
	if err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = info.Version
	}

	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		return err
	}
	app.Logger.Info("build info", info.Fields())

	ctx := context.Background()
	cfg.Observability.ServiceVersion = app.Version
	shutdownTelemetry, err := observability.Init(ctx, cfg.Observability, app.Name)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			app.Logger.Warn("telemetry shutdown failed", logger.Fields(logger.FieldError, err.Error()))
		}
	}()

	if _, err := build(app, nil); err != nil {
		return err
	}
	return app.Run(ctx)
}

func printSealed(secret string) error {
	enc, err := encryption.New(os.Getenv("BROKERSEC_SECRET_KEY"))
	if err != nil {
		return err
	}
	sealed, err := encryption.Seal(enc, secret)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
