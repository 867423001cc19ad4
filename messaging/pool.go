package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned for submissions after the pool stopped
var ErrPoolClosed = errors.New("osip: worker pool closed")

// DoneFunc receives the result of a submitted telegram
type DoneFunc func(reply []byte, err error)

type job struct {
	ctx     context.Context
	payload []byte
	done    DoneFunc
}

// PoolStats is a snapshot of the pool queues
type PoolStats struct {
	Lanes     int
	Queued    int
	Capacity  int
	Busy      int
	Processed uint64
}

// Pool processes telegrams on a fixed set of lanes. Telegrams with the same
// correlation key always land on the same lane and are handled in submission
// order; keyless telegrams are spread round robin.
type Pool struct {
	processor Processor
	lanes     []chan job
	laneSize  int
	logger    *slog.Logger

	next      atomic.Uint64
	busy      atomic.Int64
	processed atomic.Uint64

	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	stopped  chan struct{}
	running  atomic.Bool
}

// PoolOption configures the Pool
type PoolOption func(*Pool)

// WithLanes sets the number of lanes, which is also the number of workers
func WithLanes(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.lanes = make([]chan job, n)
		}
	}
}

// WithLaneSize sets how many telegrams may wait on one lane
func WithLaneSize(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.laneSize = n
		}
	}
}

// WithPoolLogger sets the logger
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates a pool feeding processor
func NewPool(processor Processor, options ...PoolOption) *Pool {
	p := &Pool{
		processor: processor,
		lanes:     make([]chan job, 4),
		laneSize:  64,
		logger:    slog.Default(),
		stopped:   make(chan struct{}),
	}

	for _, opt := range options {
		opt(p)
	}

	for i := range p.lanes {
		p.lanes[i] = make(chan job, p.laneSize)
	}

	return p
}

// Submit queues payload. It blocks while the lane is full. done is called
// exactly once, from a worker, unless Submit returns an error.
func (p *Pool) Submit(ctx context.Context, payload []byte, done DoneFunc) error {
	if done == nil {
		return fmt.Errorf("done callback cannot be nil")
	}

	lane := p.laneFor(p.processor.CorrelationKey(payload))

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case lane <- job{ctx: ctx, payload: payload, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolClosed
	}
}

// Run starts one worker per lane and blocks until ctx is done. Telegrams still
// queued at shutdown are completed with ErrPoolClosed.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pool already running")
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, lane := range p.lanes {
		lane := lane
		g.Go(func() error {
			p.work(gctx, lane)
			return nil
		})
	}

	p.logger.Info("worker pool started", "lanes", len(p.lanes), "laneSize", p.laneSize)

	err := g.Wait()
	p.stop()

	for _, lane := range p.lanes {
		p.drain(lane)
	}

	p.logger.Info("worker pool stopped", "processed", p.processed.Load())
	return err
}

// Stats returns a snapshot of queue usage
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{
		Lanes:     len(p.lanes),
		Capacity:  len(p.lanes) * p.laneSize,
		Busy:      int(p.busy.Load()),
		Processed: p.processed.Load(),
	}
	for _, lane := range p.lanes {
		stats.Queued += len(lane)
	}
	return stats
}

func (p *Pool) work(ctx context.Context, lane chan job) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case j := <-lane:
			p.process(j)
		}
	}
}

func (p *Pool) process(j job) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	reply, err := p.processor.HandleInbound(j.ctx, j.payload)
	p.processed.Add(1)
	j.done(reply, err)
}

func (p *Pool) drain(lane chan job) {
	for {
		select {
		case j := <-lane:
			j.done(nil, ErrPoolClosed)
		default:
			return
		}
	}
}

// stop wakes blocked submitters first, then waits for them to leave before
// marking the pool closed, so nothing is queued after the final drain.
func (p *Pool) stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	})
}

func (p *Pool) laneFor(key string) chan job {
	n := uint64(len(p.lanes))
	if key == "" {
		return p.lanes[p.next.Add(1)%n]
	}
	return p.lanes[xxhash.Sum64String(key)%n]
}
