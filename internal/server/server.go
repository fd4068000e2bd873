// Package server exposes registered agents over ACP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/discovery"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/hub"
	"github.com/xiaot623/gogo/acp/internal/logger"
	"github.com/xiaot623/gogo/acp/internal/policy"
	"github.com/xiaot623/gogo/acp/internal/registry"
	store "github.com/xiaot623/gogo/acp/internal/repository"
	"github.com/xiaot623/gogo/acp/internal/service"
	transport "github.com/xiaot623/gogo/acp/internal/transport/http"
)

var (
	// ErrDuplicateAgent is returned when an agent name is registered twice.
	ErrDuplicateAgent = errors.New("agent name already registered")

	// ErrServerStarted is returned by Register and Serve once Serve has been called.
	ErrServerStarted = errors.New("server already started")
)

// State is the lifecycle state of a Server.
type State int

const (
	StateUnconfigured State = iota
	StateRegistering
	StateServing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateRegistering:
		return "registering"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const shutdownTimeout = 10 * time.Second

// registerTimeout bounds self-registration. The etcd client waits for a
// connection, so an unreachable cluster would otherwise hold the call forever.
var registerTimeout = 5 * time.Second

// Server hosts agents and serves them over HTTP.
type Server struct {
	cfg       *config.Config
	registry  *registry.Registry
	store     store.Store
	ownsStore bool
	registrar discovery.Registrar
	hub       *hub.Hub
	svc       *service.Service
	echo      *echo.Echo
	log       *logrus.Entry

	mu     sync.RWMutex
	state  State
	agents map[string]*registry.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry uses r instead of registry.DefaultRegistry.
func WithRegistry(r *registry.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithStore uses st instead of opening cfg.DatabaseURL. The caller keeps ownership.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithRegistrar sets the registrar used for self-registration.
func WithRegistrar(r discovery.Registrar) Option {
	return func(s *Server) { s.registrar = r }
}

// New creates a Server in the Unconfigured state.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: registry.DefaultRegistry,
		hub:      hub.NewHub(),
		agents:   make(map[string]*registry.Handler),
		log:      logger.WithComponent("server").WithField("server", cfg.ServerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		db, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		s.store = db
		s.ownsStore = true
	}

	policyEngine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	s.svc = service.New(s.store, s, cfg, policyEngine, s.hub)
	s.echo = transport.NewServer(s.svc, s.hub, cfg, func() string { return s.State().String() })
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Get implements service.Catalog.
func (s *Server) Get(name string) (*registry.Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.agents[name]
	return h, ok
}

// List implements service.Catalog. Descriptors are sorted by name.
func (s *Server) List() []domain.AgentDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AgentDescriptor, 0, len(s.agents))
	for _, h := range s.agents {
		out = append(out, h.Descriptor.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Serve listens on the configured address and blocks until ctx is done or
// SIGINT/SIGTERM arrives.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.checkNotStarted(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener. It can be called once.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.state == StateServing || s.state == StateStopped {
		s.mu.Unlock()
		ln.Close()
		return ErrServerStarted
	}
	s.state = StateServing
	agentCount := len(s.agents)
	s.mu.Unlock()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.echo.Listener = ln
	url := s.advertisedURL(ln)
	s.log.WithFields(logrus.Fields{"addr": ln.Addr().String(), "agents": agentCount}).Info("server starting")

	if err := s.prepareRegistrar(); err != nil {
		s.log.WithError(err).Warn("self-registration disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	registered := make(chan struct{})
	g.Go(func() error {
		defer close(registered)
		if err := s.selfRegister(gctx, url); err != nil {
			s.log.WithError(err).Warn("self-registration failed, serving anyway")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		<-registered
		return s.shutdown()
	})

	err := g.Wait()
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.log.Info("server stopped")
	return err
}

func (s *Server) checkNotStarted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateServing || s.state == StateStopped {
		return ErrServerStarted
	}
	return nil
}

// prepareRegistrar creates the etcd registrar when self-registration is on and
// none was given. It runs before the serving goroutines start.
func (s *Server) prepareRegistrar() error {
	if !s.cfg.SelfRegister || s.registrar != nil {
		return nil
	}
	etcd, err := discovery.NewEtcd(s.cfg.EtcdEndpoints, s.cfg.RegisterTTL)
	if err != nil {
		return err
	}
	s.registrar = etcd
	return nil
}

func (s *Server) selfRegister(ctx context.Context, url string) error {
	if !s.cfg.SelfRegister || s.registrar == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	agents := s.List()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	return s.registrar.Register(ctx, discovery.Record{
		Server: s.cfg.ServerName,
		URL:    url,
		Agents: names,
	})
}

// shutdown deregisters, cancels in-flight runs and stops the listener.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("shutting down")

	if s.registrar != nil {
		if err := s.registrar.Deregister(ctx); err != nil {
			s.log.WithError(err).Warn("failed to deregister")
		}
		if err := s.registrar.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close registrar")
		}
	}
	if err := s.svc.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("in-flight runs did not finish in time")
	}
	var errs []error
	if err := s.echo.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
	}
	if err := s.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) closeStore() error {
	if s.ownsStore && s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Server) advertisedURL(ln net.Listener) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok && !addr.IP.IsUnspecified() {
		return fmt.Sprintf("http://%s", addr.String())
	}
	return s.cfg.AdvertisedURL()
}
