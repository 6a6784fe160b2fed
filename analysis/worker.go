package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
)

// WorkerPool runs batch scan jobs on a bounded number of goroutines. Jobs are
// handed over after their processing delay elapses.
type WorkerPool struct {
	work       chan uuid.UUID
	maxWorkers int
	pipeline   *Pipeline
	metrics    *metrics.Collector
	logger     logger.Logger

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(maxWorkers, queueSize int, pipeline *Pipeline, m *metrics.Collector, log logger.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < maxWorkers {
		queueSize = maxWorkers
	}
	return &WorkerPool{
		work:       make(chan uuid.UUID, queueSize),
		maxWorkers: maxWorkers,
		pipeline:   pipeline,
		metrics:    m,
		logger:     log,
		timers:     make(map[uuid.UUID]*time.Timer),
		done:       make(chan struct{}),
	}
}

// Start spawns worker goroutines. They exit when ctx is cancelled or Stop is called.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info(ctx, "starting worker pool", map[string]interface{}{
		"max_workers": p.maxWorkers,
	})
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Schedule hands id to a worker once delay has elapsed.
func (p *WorkerPool) Schedule(ctx context.Context, id uuid.UUID, delay time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	p.metrics.BatchQueued(1)
	p.timers[id] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, id)
		stopped := p.stopped
		p.mu.Unlock()

		if !stopped {
			select {
			case p.work <- id:
				return
			case <-p.done:
			}
		}
		p.metrics.BatchQueued(-1)
		p.logger.Warn(ctx, "worker pool stopped before scan job ran", map[string]interface{}{
			"scan_id": id.String(),
		})
		p.abort(context.Background(), []uuid.UUID{id})
	})
	return true
}

// Stop cancels pending timers and waits for running jobs to finish. Jobs that
// were scheduled or queued but never started are failed with ErrShuttingDown.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	var dropped []uuid.UUID
	for id, t := range p.timers {
		if t.Stop() {
			p.metrics.BatchQueued(-1)
			dropped = append(dropped, id)
		}
		delete(p.timers, id)
	}
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()

drain:
	for {
		select {
		case id := <-p.work:
			p.metrics.BatchQueued(-1)
			dropped = append(dropped, id)
		default:
			break drain
		}
	}
	p.abort(context.Background(), dropped)
}

func (p *WorkerPool) abort(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	p.logger.Warn(ctx, "failing scan jobs dropped at shutdown", map[string]interface{}{
		"count": len(ids),
	})
	for _, id := range ids {
		p.pipeline.Abort(ctx, id, ErrShuttingDown.Error())
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug(ctx, "worker started", map[string]interface{}{
		"worker_id": id,
	})
	for {
		select {
		case jobID := <-p.work:
			p.metrics.BatchQueued(-1)
			p.logger.Info(ctx, "worker processing scan job", map[string]interface{}{
				"worker_id": id,
				"scan_id":   jobID.String(),
			})
			p.pipeline.Run(ctx, jobID)
		case <-p.done:
			return
		case <-ctx.Done():
			p.logger.Debug(ctx, "worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		}
	}
}
