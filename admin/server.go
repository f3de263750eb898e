package admin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/brokersec/component"
	"github.com/kbukum/brokersec/logger"
	"github.com/kbukum/brokersec/security"
)

const componentName = "admin"

var (
	_ component.Component   = (*Server)(nil)
	_ component.Describable = (*Server)(nil)
)

// Listener is the view of a broker listener the admin surface needs.
type Listener interface {
	Name() string
	Addr() net.Addr
	Advertised() []string
	Context() *security.ResolvedContext
	RefreshContext(ctx context.Context) error
	ActiveConnections() int64
}

// HealthChecker returns health status for registered components.
type HealthChecker func(ctx context.Context) []component.Health

// Option configures a Server.
type Option func(*Server)

// WithHealthChecker sets the source for /health.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithResolver sets the resolver invalidated by POST /contexts/invalidate.
func WithResolver(r *security.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithListeners sets the listeners reported by /listeners and refreshed
// after an invalidation.
func WithListeners(ls ...Listener) Option {
	return func(s *Server) { s.listeners = append(s.listeners, ls...) }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server is the admin HTTP surface: health, listener state and
// credential rotation. It serves HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	cfg        Config
	service    string
	engine     *gin.Engine
	httpServer *http.Server
	health     HealthChecker
	resolver   *security.Resolver
	listeners  []Listener
	log        *logger.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New creates the admin server and registers its routes.
func New(cfg Config, serviceName string, opts ...Option) *Server {
	cfg.ApplyDefaults()

	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		service: serviceName,
		engine:  gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get(componentName)
	}

	s.engine.Use(recovery(s.log), requestID(), requestLogger(s.log))
	s.routes()

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.addr(),
		Handler:      h2c.NewHandler(s.engine, h2s),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Name implements component.Component.
func (s *Server) Name() string { return componentName }

// Start binds the port and begins serving. It returns once the port is
// bound; serving continues in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("admin failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin server error", logger.Fields(logger.FieldError, err.Error()))
		}
	}()

	s.log.Info("admin server started", logger.Fields("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts down the server with a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("admin shutdown error", logger.Fields(logger.FieldError, err.Error()))
		return fmt.Errorf("admin shutdown error: %w", err)
	}
	s.mu.Lock()
	s.addr = nil
	s.mu.Unlock()
	s.log.Info("admin server shut down")
	return nil
}

// Addr returns the bound address, nil when not serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Health implements component.Component.
func (s *Server) Health(context.Context) component.Health {
	if s.Addr() == nil {
		return component.Health{Name: componentName, Status: component.StatusUnhealthy, Message: "not serving"}
	}
	return component.Health{Name: componentName, Status: component.StatusHealthy}
}

// Describe implements component.Describable.
func (s *Server) Describe() component.Description {
	return component.Description{Name: "Admin API", Type: "admin", Details: s.httpServer.Addr}
}
