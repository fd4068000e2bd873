package server

import (
	"fmt"
	"time"

	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/registry"
)

type registerConfig struct {
	meta registry.Metadata
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerConfig)

// WithName overrides the agent's own name.
func WithName(name string) RegisterOption {
	return func(rc *registerConfig) { rc.meta.Name = name }
}

// WithTags attaches discovery tags to the agent.
func WithTags(tags ...string) RegisterOption {
	return func(rc *registerConfig) { rc.meta.Tags = append(rc.meta.Tags, tags...) }
}

// WithMetadata attaches free-form metadata to the agent descriptor.
func WithMetadata(md map[string]any) RegisterOption {
	return func(rc *registerConfig) {
		if rc.meta.Metadata == nil {
			rc.meta.Metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			rc.meta.Metadata[k] = v
		}
	}
}

// Register adapts instance through the registry and exposes it under a unique name.
// It must be called before Serve.
func (s *Server) Register(instance any, opts ...RegisterOption) (domain.AgentDescriptor, error) {
	rc := &registerConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	if err := s.checkNotStarted(); err != nil {
		return domain.AgentDescriptor{}, err
	}

	h, err := s.registry.Build(instance, rc.meta)
	if err != nil {
		return domain.AgentDescriptor{}, err
	}
	if rc.meta.Name != "" {
		h.Descriptor.Name = rc.meta.Name
	}
	if h.Descriptor.Name == "" {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: agent name is required", domain.ErrInvalidInput)
	}
	h.Descriptor.RegisteredAt = time.Now()
	h.Descriptor = h.Descriptor.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateServing || s.state == StateStopped {
		return domain.AgentDescriptor{}, ErrServerStarted
	}
	if _, exists := s.agents[h.Descriptor.Name]; exists {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: %s", ErrDuplicateAgent, h.Descriptor.Name)
	}
	s.agents[h.Descriptor.Name] = h
	s.state = StateRegistering

	s.log.WithField("agent", h.Descriptor.Name).Info("agent registered")
	return h.Descriptor.Clone(), nil
}

// MustRegister is Register that panics on error.
func (s *Server) MustRegister(instance any, opts ...RegisterOption) domain.AgentDescriptor {
	desc, err := s.Register(instance, opts...)
	if err != nil {
		panic(err)
	}
	return desc
}
