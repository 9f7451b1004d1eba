// Package pool runs jobs on a fixed set of isolated worker goroutines.
// The pool bounds cross-job concurrency: Submit blocks while every slot is
// busy, and a panic inside one job is contained to its worker and surfaced
// as an ordinary error on the job's handle.
package pool

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/progress"
)

// ErrShutdown is returned by Submit after shutdown has begun.
var ErrShutdown = errors.New("worker pool is shut down")

// Runner executes one job end to end and returns the artifact paths, or an
// empty slice when packaging intentionally produced nothing.
type Runner interface {
	Run(ctx context.Context, id string, prog *progress.Channel) ([]string, error)
}

// Result is the terminal outcome of one submitted job.
type Result struct {
	ArtifactPaths []string
	Err           error
}

// Handle resolves to the job's Result exactly once.
type Handle struct {
	done chan Result
}

// Done exposes the completion channel.
func (h *Handle) Done() <-chan Result {
	return h.done
}

type task struct {
	ctx  context.Context
	id   string
	prog *progress.Channel
	done chan Result
}

// Pool is the fixed-size execution context set. Expensive per-worker
// resources are built once per worker by newRunner, not once per job.
type Pool struct {
	tasks  chan task
	quit   chan struct{}
	wg     sync.WaitGroup
	size   int
	once   sync.Once
	logger *zap.Logger
}

// New starts size workers, each owning a Runner built by newRunner.
func New(size int, newRunner func() Runner, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		tasks:  make(chan task),
		quit:   make(chan struct{}),
		size:   size,
		logger: logger,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i, newRunner())
	}
	return p
}

// Size returns the configured worker count.
func (p *Pool) Size() int {
	return p.size
}

// Submit hands a job to the pool, blocking until a worker accepts it or
// ctx finishes. The returned handle resolves when the job terminates.
// The tasks channel is never closed, so a submission racing Shutdown is
// released by quit and rejected rather than panicking on a closed send.
func (p *Pool) Submit(ctx context.Context, id string, prog *progress.Channel) (*Handle, error) {
	select {
	case <-p.quit:
		return nil, ErrShutdown
	default:
	}
	t := task{
		ctx:  ctx,
		id:   id,
		prog: prog,
		done: make(chan Result, 1),
	}
	select {
	case p.tasks <- t:
		return &Handle{done: t.done}, nil
	case <-p.quit:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "submit job")
	}
}

// Shutdown stops intake and waits for in-flight jobs to finish, or returns
// early when ctx expires. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		close(p.quit)
	})
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "pool shutdown wait")
	}
}

func (p *Pool) worker(idx int, runner Runner) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", idx))
	for {
		select {
		case t := <-p.tasks:
			t.done <- p.runIsolated(t, runner, logger)
		case <-p.quit:
			return
		}
	}
}

// runIsolated converts a panic in the job into a transient error so one
// crashing job cannot take down its worker or the supervisor.
func (p *Pool) runIsolated(t task, runner Runner, logger *zap.Logger) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked",
				zap.String("identifier", t.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = Result{Err: errors.Newf("job panicked: %v", r)}
		}
	}()
	paths, err := runner.Run(t.ctx, t.id, t.prog)
	return Result{ArtifactPaths: paths, Err: err}
}
