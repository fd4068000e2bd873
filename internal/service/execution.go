package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/registry"
)

// execution is the state of one in-flight run. It is also the agent's Emitter.
type execution struct {
	svc     *Service
	handler *registry.Handler
	input   domain.Input
	sink    EventSink
	log     *logrus.Entry

	mu              sync.Mutex
	run             domain.Run
	seq             int
	finished        bool
	cancel          context.CancelFunc
	cancelRequested bool
}

type agentResult struct {
	out *domain.RunOutput
	err error
}

func (e *execution) execute(parent context.Context) *domain.Run {
	defer e.svc.release(e.run.RunID)

	var ctx context.Context
	var cancel context.CancelFunc
	if timeout := e.svc.config.RunTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	e.mu.Lock()
	e.cancel = cancel
	if e.cancelRequested {
		cancel()
	} else {
		e.run.Status = domain.RunStatusInProgress
		if err := e.svc.store.UpdateRunStatus(context.WithoutCancel(ctx), e.run.RunID, domain.RunStatusInProgress); err != nil {
			e.log.WithError(err).Error("failed to update run status")
		}
	}
	e.publish(ctx, domain.Event{Type: domain.EventTypeRunInProgress, Run: e.snapshotLocked()})
	e.mu.Unlock()

	done := make(chan agentResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.WithField("panic", r).Error("agent panicked")
				done <- agentResult{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		out, err := e.handler.Run(ctx, e.input, e)
		done <- agentResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err == nil:
			var output []domain.Message
			if res.out != nil {
				output = res.out.Messages
			}
			return e.finish(ctx, domain.RunStatusCompleted, output, nil)
		case ctx.Err() != nil:
			return e.finish(ctx, domain.RunStatusCancelled, nil, nil)
		default:
			e.log.WithError(res.err).Warn("run failed")
			_, body := domain.ToErrorBody(res.err)
			return e.finish(ctx, domain.RunStatusFailed, nil, body)
		}
	case <-ctx.Done():
		// The agent goroutine may still be running; its emits are rejected from now on.
		return e.finish(ctx, domain.RunStatusCancelled, nil, nil)
	}
}

// Emit implements agent.Emitter.
func (e *execution) Emit(ctx context.Context, u domain.Update) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return domain.ErrRunFinished
	}
	if err := ctx.Err(); err != nil {
		return domain.Aborted(err)
	}
	update := u
	e.publish(ctx, domain.Event{Type: update.EventType(), Update: &update})
	return nil
}

func (e *execution) finish(ctx context.Context, status domain.RunStatus, output []domain.Message, errBody *domain.ErrorBody) *domain.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return e.snapshotLocked()
	}
	e.finished = true

	now := time.Now()
	e.run.Status = status
	e.run.Output = output
	e.run.Error = errBody
	e.run.FinishedAt = &now

	storeCtx := context.WithoutCancel(ctx)
	if err := e.svc.store.UpdateRunFinished(storeCtx, &e.run); err != nil {
		e.log.WithError(err).Error("failed to update run")
	}
	if status == domain.RunStatusCompleted && e.run.SessionID != "" {
		e.svc.saveMessages(storeCtx, e.run.SessionID, e.run.RunID, output)
	}

	switch status {
	case domain.RunStatusCompleted:
		for i := range output {
			msg := output[i]
			e.publish(ctx, domain.Event{Type: domain.EventTypeMessageCompleted, Message: &msg})
		}
		e.publish(ctx, domain.Event{Type: domain.EventTypeRunCompleted, Run: e.snapshotLocked()})
	case domain.RunStatusFailed:
		e.publish(ctx, domain.Event{Type: domain.EventTypeRunFailed, Run: e.snapshotLocked(), Error: errBody})
	default:
		e.publish(ctx, domain.Event{Type: domain.EventTypeRunCancelled, Run: e.snapshotLocked()})
	}

	e.log.WithFields(logrus.Fields{
		"status":      status,
		"duration_ms": now.Sub(e.run.CreatedAt).Milliseconds(),
	}).Info("run finished")
	return e.snapshotLocked()
}

// publish numbers, persists and fans out one event. Callers hold e.mu.
func (e *execution) publish(ctx context.Context, evt domain.Event) {
	e.seq++
	evt.EventID = "evt_" + uuid.New().String()
	evt.RunID = e.run.RunID
	evt.Seq = e.seq
	evt.Ts = time.Now().UnixMilli()
	if evt.Update != nil {
		evt.Update.Seq = e.seq
	}

	if err := e.svc.store.CreateEvent(context.WithoutCancel(ctx), &evt); err != nil {
		e.log.WithError(err).WithField("type", evt.Type).Error("failed to record event")
	}
	if e.svc.hub != nil && e.run.SessionID != "" {
		if err := e.svc.hub.BroadcastJSON(e.run.SessionID, evt); err != nil {
			e.log.WithError(err).Warn("failed to broadcast event")
		}
	}
	if e.sink != nil {
		e.sink(evt)
	}
}

// requestCancel marks the run cancelling and cancels its context. It reports
// false when the run has already finished.
func (e *execution) requestCancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return false
	}
	if !e.cancelRequested {
		e.cancelRequested = true
		e.run.Status = domain.RunStatusCancelling
		if err := e.svc.store.UpdateRunStatus(context.Background(), e.run.RunID, domain.RunStatusCancelling); err != nil {
			e.log.WithError(err).Error("failed to update run status")
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

func (e *execution) snapshot() *domain.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *execution) snapshotLocked() *domain.Run {
	run := e.run
	return &run
}
