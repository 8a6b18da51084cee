package charts

import (
	"context"
	"sync"
	"time"

	"chart-backend/internal/shared/telemetry"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 64
	defaultJobTimeout = 10 * time.Minute
)

// Job is one extraction run request.
type Job struct {
	ChartID    string
	TemplateID *string
}

// Dispatcher fans extraction runs out to a bounded worker pool. It bounds
// global concurrency only; two jobs for the same chart may run at the same
// time, with the later whole-document write winning.
type Dispatcher struct {
	run        func(ctx context.Context, job Job)
	jobs       chan Job
	workers    int
	jobTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the worker count.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the pending-job buffer size.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.jobs = make(chan Job, n)
		}
	}
}

// WithJobTimeout bounds how long a single run may take.
func WithJobTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.jobTimeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher that executes jobs with run.
func NewDispatcher(run func(ctx context.Context, job Job), opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		run:        run,
		jobs:       make(chan Job, defaultQueueSize),
		workers:    defaultWorkers,
		jobTimeout: defaultJobTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		telemetry.Info("dispatcher.started", map[string]any{
			"workers":    d.workers,
			"queue_size": cap(d.jobs),
		})
	})
}

// Enqueue submits a job without blocking. It returns ErrQueueFull when the
// buffer is saturated and ErrQueueClosed after Shutdown.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight runs to finish.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.jobs)
		d.wg.Wait()
		telemetry.Info("dispatcher.stopped", nil)
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
		d.run(ctx, job)
		cancel()
	}
}
