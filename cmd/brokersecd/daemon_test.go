package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kbukum/brokersec/admin"
	"github.com/kbukum/brokersec/bootstrap"
	"github.com/kbukum/brokersec/config"
	"github.com/kbukum/brokersec/domain"
	"github.com/kbukum/brokersec/encryption"
	"github.com/kbukum/brokersec/listener"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/mechanism"
	"github.com/kbukum/brokersec/security"
	"github.com/kbukum/brokersec/wire"
)

func hashPassword(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	return string(h)
}

func validConfig(t *testing.T) *DaemonConfig {
	t.Helper()
	return &DaemonConfig{
		Domain: domain.Config{
			Name:  "broker",
			Users: []domain.UserConfig{{Name: "alice", PasswordHash: hashPassword(t, "secret")}},
		},
		Listeners: []listener.Config{
			{Name: "amqp", Address: "127.0.0.1:0", Mechanisms: []string{"PLAIN"}},
		},
	}
}

func TestDaemonConfigDefaults(t *testing.T) {
	cfg := validConfig(t)
	cfg.ApplyDefaults()
	if cfg.Name != serviceName {
		t.Errorf("expected name %q, got %q", serviceName, cfg.Name)
	}
	if cfg.Observability.Environment != "development" {
		t.Errorf("expected observability environment to follow the service, got %q", cfg.Observability.Environment)
	}
	if cfg.Listeners[0].Negotiation.Timeout == 0 {
		t.Error("expected listener negotiation defaults to be applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestDaemonConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *DaemonConfig)
		wantErr string
	}{
		{"no listeners", func(c *DaemonConfig) { c.Listeners = nil }, "at least one listener"},
		{"duplicate listener", func(c *DaemonConfig) {
			c.Listeners = append(c.Listeners, listener.Config{Name: "amqp", Address: "127.0.0.1:0"})
		}, "duplicate name"},
		{"bad listener address", func(c *DaemonConfig) { c.Listeners[0].Address = "nowhere" }, "listeners[0]"},
		{"bad admin port", func(c *DaemonConfig) { c.Admin.Port = 70000 }, "admin"},
		{"bad environment", func(c *DaemonConfig) { c.Environment = "qa" }, "environment"},
		{"bad password hash", func(c *DaemonConfig) { c.Domain.Users[0].PasswordHash = "plain" }, "alice"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadDaemonConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := `
name: brokersecd
environment: staging
logging:
  level: warn
admin:
  enabled: true
  port: 9191
domain:
  name: broker
  users:
    - name: alice
      password_hash: "` + hashPassword(t, "secret") + `"
listeners:
  - name: amqp
    address: "0.0.0.0:5672"
    mechanisms: [PLAIN, ANONYMOUS]
    negotiation:
      timeout: 3s
  - name: amqps
    address: "0.0.0.0:5671"
    tls:
      keystore_path: /etc/brokersec/server.pem
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load[DaemonConfig](serviceName,
		config.WithConfigFile(path),
		config.WithEnvFile(filepath.Join(dir, "missing.env")),
		config.WithEnvPrefix("BROKERSEC_TEST_NONE"),
	)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != "staging" || cfg.Logging.Level != "warn" {
		t.Errorf("unexpected service section %+v", cfg.ServiceConfig)
	}
	if !cfg.Admin.Enabled || cfg.Admin.Port != 9191 {
		t.Errorf("unexpected admin section %+v", cfg.Admin)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(cfg.Listeners))
	}
	amqp := cfg.Listeners[0]
	if amqp.Negotiation.Timeout != 3*time.Second {
		t.Errorf("expected 3s negotiation timeout, got %v", amqp.Negotiation.Timeout)
	}
	if len(amqp.Mechanisms) != 2 || amqp.Mechanisms[1] != "ANONYMOUS" {
		t.Errorf("unexpected mechanisms %v", amqp.Mechanisms)
	}
	if amqp.TLS != nil {
		t.Error("expected plaintext listener to have no TLS section")
	}
	if tlsCfg := cfg.Listeners[1].TLS; tlsCfg == nil || tlsCfg.KeystorePath != "/etc/brokersec/server.pem" {
		t.Errorf("unexpected TLS section %+v", tlsCfg)
	}
}

func TestBuildServesListenersAndAdmin(t *testing.T) {
	cfg := validConfig(t)
	cfg.Admin = admin.Config{Enabled: true, Port: -1}
	app, err := bootstrap.NewApp(cfg, bootstrap.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	ids := make(chan mechanism.Identity, 1)
	d, err := build(app, listener.HandlerFunc(func(_ context.Context, _ net.Conn, id mechanism.Identity) {
		ids <- id
	}))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got := len(app.Components.All()); got != 2 {
		t.Fatalf("expected listener and admin components, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	raw, err := net.DialTimeout("tcp", d.listeners[0].Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer raw.Close()
	c := wire.NewConn(raw)
	if _, err := c.ReadMechanisms(ctx); err != nil {
		t.Fatalf("ReadMechanisms failed: %v", err)
	}
	if err := c.SendInit(ctx, mechanism.PlainName, []byte("\x00alice\x00secret")); err != nil {
		t.Fatalf("SendInit failed: %v", err)
	}
	if _, outcome, err := c.ReadChallengeOrOutcome(ctx); err != nil || outcome == nil || !outcome.OK {
		t.Fatalf("expected success outcome, got %+v, %v", outcome, err)
	}
	select {
	case id := <-ids:
		if id.Name != "alice" {
			t.Errorf("expected identity alice, got %q", id.Name)
		}
	case <-ctx.Done():
		t.Fatal("handler was not called")
	}

	resp, err := http.Get("http://" + d.admin.Addr().String() + "/listeners")
	if err != nil {
		t.Fatalf("GET /listeners failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestBuildRejectsAdminNameClash(t *testing.T) {
	cfg := validConfig(t)
	cfg.Listeners[0].Name = "admin"
	cfg.Admin.Enabled = true
	app, err := bootstrap.NewApp(cfg, bootstrap.WithLogger(logger.NewNop()))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if _, err := build(app, nil); err == nil {
		t.Error("expected a component name clash to fail")
	}
}

func TestOpenSecrets(t *testing.T) {
	enc, err := encryption.New("master")
	if err != nil {
		t.Fatalf("encryption.New failed: %v", err)
	}
	sealedPw, _ := encryption.Seal(enc, "changeit")
	sealedToken, _ := encryption.Seal(enc, "hmac-secret")

	cfg := validConfig(t)
	cfg.SecretKey = "master"
	cfg.Domain.Tokens.Secret = sealedToken
	cfg.Listeners = append(cfg.Listeners, listener.Config{
		Name:    "amqps",
		Address: "127.0.0.1:0",
		TLS:     &security.TransportConfig{KeystorePath: "/k.p12", KeystorePassword: sealedPw, TruststorePassword: "plain"},
	})

	if err := cfg.openSecrets(); err != nil {
		t.Fatalf("openSecrets failed: %v", err)
	}
	if cfg.Domain.Tokens.Secret != "hmac-secret" {
		t.Errorf("expected token secret to be opened, got %q", cfg.Domain.Tokens.Secret)
	}
	tlsCfg := cfg.Listeners[1].TLS
	if tlsCfg.KeystorePassword != "changeit" || tlsCfg.TruststorePassword != "plain" {
		t.Errorf("unexpected passwords %q %q", tlsCfg.KeystorePassword, tlsCfg.TruststorePassword)
	}
}

func TestOpenSecretsWithoutKey(t *testing.T) {
	enc, _ := encryption.New("master")
	sealed, _ := encryption.Seal(enc, "hmac-secret")

	cfg := validConfig(t)
	cfg.Domain.Tokens.Secret = sealed
	err := cfg.openSecrets()
	if err == nil || !strings.Contains(err.Error(), "domain.tokens.secret") {
		t.Errorf("expected an error naming the sealed field, got %v", err)
	}
}
