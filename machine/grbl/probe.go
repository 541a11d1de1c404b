package grbl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mastercactapus/grblctl/machine"
)

// ErrProbeCancelled is returned for results that will never arrive.
var ErrProbeCancelled = errors.New("probe cancelled")

// ProbeBatch yields the results of a probe run in submission order.
type ProbeBatch struct {
	ID       string
	Requests []machine.ProbeRequest

	coord   *probeCoordinator
	results chan machine.ProbeResult

	mx        sync.Mutex
	delivered int
	closed    bool
}

// Results delivers each result as it completes. The channel is closed
// after the last result or when the batch is cancelled.
func (b *ProbeBatch) Results() <-chan machine.ProbeResult { return b.results }

// Next waits for the next result.
func (b *ProbeBatch) Next(ctx context.Context) (machine.ProbeResult, error) {
	select {
	case <-ctx.Done():
		return machine.ProbeResult{}, ctx.Err()
	case r, ok := <-b.results:
		if !ok {
			return machine.ProbeResult{}, ErrProbeCancelled
		}
		return r, nil
	}
}

// Wait collects every result of the batch.
func (b *ProbeBatch) Wait(ctx context.Context) ([]machine.ProbeResult, error) {
	res := make([]machine.ProbeResult, 0, len(b.Requests))
	for range b.Requests {
		r, err := b.Next(ctx)
		if err != nil {
			return res, err
		}
		res = append(res, r)
	}
	return res, nil
}

// Cancel drops the unresolved requests of the batch.
func (b *ProbeBatch) Cancel() { b.coord.cancel(b) }

// deliver hands over a result; the channel is sized so it never blocks.
func (b *ProbeBatch) deliver(r machine.ProbeResult) {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.closed {
		return
	}
	b.results <- r
	b.delivered++
	if b.delivered == len(b.Requests) {
		b.closed = true
		close(b.results)
	}
}

func (b *ProbeBatch) close() {
	b.mx.Lock()
	defer b.mx.Unlock()
	if !b.closed {
		b.closed = true
		close(b.results)
	}
}

// probeCoordinator matches incoming probe results to pending requests,
// oldest first.
type probeCoordinator struct {
	mx      sync.Mutex
	pending []*ProbeBatch
}

func (p *probeCoordinator) register(reqs []machine.ProbeRequest) *ProbeBatch {
	b := &ProbeBatch{
		ID:       uuid.New().String(),
		Requests: reqs,
		coord:    p,
		results:  make(chan machine.ProbeResult, len(reqs)),
	}
	p.mx.Lock()
	for range reqs {
		p.pending = append(p.pending, b)
	}
	p.mx.Unlock()
	return b
}

// resolve completes the oldest pending slot with r.
func (p *probeCoordinator) resolve(r machine.ProbeResult) bool {
	p.mx.Lock()
	if len(p.pending) == 0 {
		p.mx.Unlock()
		return false
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	p.mx.Unlock()

	b.deliver(r)
	return true
}

func (p *probeCoordinator) cancel(b *ProbeBatch) {
	p.mx.Lock()
	kept := p.pending[:0]
	for _, pb := range p.pending {
		if pb != b {
			kept = append(kept, pb)
		}
	}
	p.pending = kept
	p.mx.Unlock()
	b.close()
}

func (p *probeCoordinator) cancelAll() {
	p.mx.Lock()
	pending := p.pending
	p.pending = nil
	p.mx.Unlock()
	for _, b := range pending {
		b.close()
	}
}

// Len returns the number of unresolved probe requests.
func (p *probeCoordinator) Len() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return len(p.pending)
}

// Probe runs a batch of probe requests on the system lane and returns a
// handle to its results.
func (c *Controller) Probe(reqs []machine.ProbeRequest) (*ProbeBatch, error) {
	if err := c.requireReady("probe"); err != nil {
		return nil, err
	}
	prog, err := machine.ProbeProgram(reqs)
	if err != nil {
		return nil, err
	}

	q := c.Queue()
	if err := q.Clear(machine.LaneSystem); err != nil {
		return nil, fmt.Errorf("clear system lane: %w", err)
	}
	batch := c.probes.register(reqs)
	if err := q.Add(machine.LaneSystem, prog); err != nil {
		batch.Cancel()
		return nil, fmt.Errorf("queue probe program: %w", err)
	}
	if err := q.Begin(machine.LaneSystem); err != nil {
		batch.Cancel()
		return nil, fmt.Errorf("start probe program: %w", err)
	}
	c.log.Info("probe started", "batch", batch.ID, "requests", len(reqs))
	return batch, nil
}

// PendingProbes returns the number of probe results still expected.
func (c *Controller) PendingProbes() int { return c.probes.Len() }
