// Package service executes agent runs and serves run, event and session queries.
package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/acp/internal/config"
	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/hub"
	"github.com/xiaot623/gogo/acp/internal/logger"
	"github.com/xiaot623/gogo/acp/internal/policy"
	"github.com/xiaot623/gogo/acp/internal/registry"
	store "github.com/xiaot623/gogo/acp/internal/repository"
)

// Catalog resolves agent names to registered handlers.
type Catalog interface {
	Get(name string) (*registry.Handler, bool)
	List() []domain.AgentDescriptor
}

// historyLimit caps how many session messages are replayed into a run.
const historyLimit = 50

type Service struct {
	store        store.Store
	catalog      Catalog
	config       *config.Config
	policyEngine *policy.Engine
	hub          *hub.Hub
	log          *logrus.Entry

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu     sync.Mutex
	active map[string]*execution
	wg     sync.WaitGroup
}

// New creates a Service. policyEngine and h may be nil.
func New(st store.Store, catalog Catalog, cfg *config.Config, policyEngine *policy.Engine, h *hub.Hub) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:        st,
		catalog:      catalog,
		config:       cfg,
		policyEngine: policyEngine,
		hub:          h,
		log:          logger.WithComponent("service"),
		baseCtx:      ctx,
		cancelBase:   cancel,
		active:       make(map[string]*execution),
	}
}

// ActiveRuns returns the number of runs that have not finished yet.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown cancels every in-flight run and waits for them to finish or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancelBase()
	s.mu.Lock()
	for _, exec := range s.active {
		exec.requestCancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) track(exec *execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[exec.run.RunID] = exec
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}

func (s *Service) lookupActive(runID string) *execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[runID]
}
