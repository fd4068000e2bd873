package acpclient

import "context"

// Pending is a run that is still in flight.
type Pending struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Done is closed once the run has terminated.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the run terminates and returns its result.
func (p *Pending) Wait() (*Result, error) {
	<-p.done
	return p.result, p.err
}

// Cancel aborts the run. Wait then returns an error matching domain.ErrAborted.
func (p *Pending) Cancel() {
	p.cancel()
}
