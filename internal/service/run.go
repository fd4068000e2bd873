package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/policy"
)

// EventSink receives the events of one run in order. It is called synchronously.
type EventSink func(domain.Event)

// Execute runs an agent to completion in the caller's goroutine.
// Errors are returned only when the run could not be created; once created the
// run always ends in a terminal state that is reported through the returned run.
func (s *Service) Execute(ctx context.Context, req domain.RunCreateRequest, sink EventSink) (*domain.Run, error) {
	exec, err := s.prepare(ctx, req, sink)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return exec.execute(ctx), nil
}

// StartAsync creates the run and executes it in the background, detached from ctx.
func (s *Service) StartAsync(ctx context.Context, req domain.RunCreateRequest) (*domain.Run, error) {
	exec, err := s.prepare(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	snapshot := exec.snapshot()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		exec.execute(s.baseCtx)
	}()
	return snapshot, nil
}

// prepare validates and admits the request, then persists the new run.
func (s *Service) prepare(ctx context.Context, req domain.RunCreateRequest, sink EventSink) (*execution, error) {
	if req.AgentName == "" {
		return nil, fmt.Errorf("%w: agent_name is required", domain.ErrInvalidInput)
	}
	if len(req.Input) == 0 {
		return nil, fmt.Errorf("%w: input is required", domain.ErrInvalidInput)
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, req.Mode)
	}
	if req.Mode == "" {
		req.Mode = domain.RunModeSync
	}
	if s.baseCtx.Err() != nil {
		return nil, domain.NewFrameworkError(domain.ErrRemoteUnavailable, "server is shutting down", nil)
	}

	handler, ok := s.catalog.Get(req.AgentName)
	if !ok {
		return nil, domain.NewAgentNotFound(req.AgentName)
	}

	if err := s.admit(ctx, handler.Descriptor, req); err != nil {
		return nil, err
	}

	input := req.Input
	if req.SessionID != "" {
		if _, err := s.store.GetOrCreateSession(ctx, req.SessionID); err != nil {
			return nil, fmt.Errorf("failed to get/create session: %w", err)
		}
		history, err := s.store.GetMessages(ctx, req.SessionID, historyLimit)
		if err != nil {
			s.log.WithError(err).WithField("session_id", req.SessionID).Warn("failed to load session history")
		}
		if len(history) > 0 {
			input = make(domain.Input, 0, len(history)+len(req.Input))
			for _, m := range history {
				input = append(input, m.Message)
			}
			input = append(input, req.Input...)
		}
	}

	run := domain.Run{
		RunID:     "run_" + uuid.New().String(),
		AgentName: req.AgentName,
		SessionID: req.SessionID,
		Mode:      req.Mode,
		Status:    domain.RunStatusCreated,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	exec := &execution{
		svc:     s,
		run:     run,
		handler: handler,
		input:   input,
		sink:    sink,
		log: s.log.WithFields(logrus.Fields{
			"run_id": run.RunID,
			"agent":  run.AgentName,
		}),
	}
	s.track(exec)

	if req.SessionID != "" {
		s.saveMessages(ctx, req.SessionID, run.RunID, req.Input)
	}

	exec.mu.Lock()
	exec.publish(ctx, domain.Event{Type: domain.EventTypeRunCreated, Run: exec.snapshotLocked()})
	exec.mu.Unlock()

	exec.log.WithField("mode", run.Mode).Info("run created")
	return exec, nil
}

func (s *Service) admit(ctx context.Context, desc domain.AgentDescriptor, req domain.RunCreateRequest) error {
	if s.policyEngine == nil {
		return nil
	}
	decision, reason, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Agent: policy.AgentInput{
			Name:     desc.Name,
			Tags:     desc.Tags,
			Metadata: desc.Metadata,
		},
		SessionID: req.SessionID,
		Mode:      string(req.Mode),
		Text:      req.Input.LastUserText(),
		Messages:  len(req.Input),
	})
	if err != nil {
		return domain.NewFrameworkError(nil, "failed to evaluate run policy", err)
	}
	if decision == policy.DecisionBlock {
		if reason == "" {
			reason = "blocked by policy"
		}
		return fmt.Errorf("%w: %s", domain.ErrForbidden, reason)
	}
	return nil
}

func (s *Service) saveMessages(ctx context.Context, sessionID, runID string, msgs []domain.Message) {
	for _, m := range msgs {
		stored := &domain.StoredMessage{
			MessageID: "msg_" + uuid.New().String(),
			SessionID: sessionID,
			RunID:     runID,
			Message:   m,
			CreatedAt: time.Now(),
		}
		if err := s.store.CreateMessage(ctx, stored); err != nil {
			s.log.WithError(err).WithField("run_id", runID).Error("failed to save message")
		}
	}
}

// CancelRun requests cancellation of a run. The returned run is in the cancelling
// state while the agent winds down.
func (s *Service) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	if exec := s.lookupActive(runID); exec != nil && exec.requestCancel() {
		return exec.snapshot(), nil
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunFinished, runID, run.Status)
	}

	// Not executing in this process, e.g. left over from a previous process.
	now := time.Now()
	run.Status = domain.RunStatusCancelled
	run.FinishedAt = &now
	if err := s.store.UpdateRunFinished(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	return run, nil
}
