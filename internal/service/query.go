package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// ListAgents returns every registered agent descriptor.
func (s *Service) ListAgents() []domain.AgentDescriptor {
	return s.catalog.List()
}

// GetAgent returns the descriptor of a registered agent.
func (s *Service) GetAgent(name string) (*domain.AgentDescriptor, error) {
	h, ok := s.catalog.Get(name)
	if !ok {
		return nil, domain.NewAgentNotFound(name)
	}
	desc := h.Descriptor.Clone()
	return &desc, nil
}

// GetRun returns a run, preferring the live state of an in-flight run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	if exec := s.lookupActive(runID); exec != nil {
		return exec.snapshot(), nil
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, &domain.RunNotFoundError{RunID: runID}
	}
	return run, nil
}

// GetRunEvents replays the events of a run with seq greater than afterSeq.
func (s *Service) GetRunEvents(ctx context.Context, runID string, afterSeq, limit int) ([]domain.Event, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	events, err := s.store.GetEvents(ctx, runID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

// GetMessages returns the last limit messages of a session.
func (s *Service) GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	msgs, err := s.store.GetMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.StoredMessage{}
	}
	return msgs, nil
}
