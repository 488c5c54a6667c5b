package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"order-engine/internal/monitor"
)

// Runner runs one order to a final status. *Retrier implements it.
type Runner interface {
	Run(ctx context.Context, o Order) Outcome
}

// AsyncExecutor is the worker pool. It pulls orders from the queue, admits
// each through the concurrency gate and then the rate gate, and runs it on
// its own goroutine.
type AsyncExecutor struct {
	queue    *Queue
	limiter  *WindowLimiter
	runner   Runner
	slots    chan struct{}
	resultCh chan ExecutionResult
	log      *zap.Logger
	metrics  *monitor.Metrics

	wg            sync.WaitGroup
	mu            sync.Mutex
	stop          context.CancelFunc
	dispatching   chan struct{}
	stopped       bool
	resultsClosed bool
}

// ExecutionResult is the job-level outcome of one order. Success means the
// job finished without panicking; the order itself may still be FAILED.
type ExecutionResult struct {
	OrderID   string        `json:"order_id"`
	Status    Status        `json:"status"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     error         `json:"-"`
	ErrorMsg  string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewAsyncExecutor creates a pool with at most workers orders executing at once.
func NewAsyncExecutor(queue *Queue, limiter *WindowLimiter, runner Runner, workers int, log *zap.Logger, metrics *monitor.Metrics) *AsyncExecutor {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncExecutor{
		queue:    queue,
		limiter:  limiter,
		runner:   runner,
		slots:    make(chan struct{}, workers),
		resultCh: make(chan ExecutionResult, 100),
		log:      log,
		metrics:  metrics,
	}
}

// Run dispatches orders until ctx is done, the queue is closed or Close is
// called. Jobs already started keep running after Run returns.
func (a *AsyncExecutor) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrQueueClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	dispatching := make(chan struct{})
	a.dispatching = dispatching
	a.mu.Unlock()
	defer close(dispatching)
	defer cancel()

	jobCtx := context.WithoutCancel(ctx)
	for {
		select {
		case a.slots <- struct{}{}:
		case <-ctx.Done():
			return a.dispatchErr(ctx.Err())
		}

		o, err := a.queue.Next(ctx)
		if err != nil {
			<-a.slots
			return a.dispatchErr(err)
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				// Left PENDING in the store; picked up again on restart.
				a.queue.Done(o.ID)
				<-a.slots
				return a.dispatchErr(err)
			}
		}

		a.metrics.Admitted()
		a.wg.Add(1)
		go a.execute(jobCtx, o)
	}
}

func (a *AsyncExecutor) dispatchErr(err error) error {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped || errors.Is(err, ErrQueueClosed) {
		return nil
	}
	return err
}

func (a *AsyncExecutor) execute(ctx context.Context, o Order) {
	start := time.Now()
	result := ExecutionResult{OrderID: o.ID, Status: o.Status}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Errorf("panic executing order %s: %v", o.ID, r)
			a.log.Error("order job panicked", zap.String("order_id", o.ID), zap.Any("panic", r), zap.Stack("stack"))
		}
		if result.Error != nil {
			result.ErrorMsg = result.Error.Error()
		}
		result.Latency = time.Since(start)
		result.Timestamp = time.Now()

		a.queue.Done(o.ID)
		<-a.slots
		a.publish(result)
		a.wg.Done()
	}()

	out := a.runner.Run(ctx, o)
	result.Success = true
	result.Status = out.Order.Status
	result.Attempts = out.Attempts
	result.Error = out.Err

	if out.Err != nil {
		a.log.Info("order job finished", zap.String("order_id", o.ID), zap.String("status", string(out.Order.Status)), zap.Int("attempts", out.Attempts), zap.Error(out.Err))
	} else {
		a.log.Info("order job finished", zap.String("order_id", o.ID), zap.String("status", string(out.Order.Status)), zap.Int("attempts", out.Attempts), zap.Duration("latency", time.Since(start)))
	}
}

func (a *AsyncExecutor) publish(result ExecutionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resultsClosed {
		return
	}
	select {
	case a.resultCh <- result:
	default:
		a.log.Warn("result channel full, dropping result", zap.String("order_id", result.OrderID))
	}
}

// Results returns the best-effort result channel. It is closed by Close once
// every job has finished.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Pending returns the number of occupied worker slots.
func (a *AsyncExecutor) Pending() int {
	return len(a.slots)
}

// Close stops admission and waits for running jobs. If ctx ends first it
// returns ctx.Err() and the jobs keep running in the background.
func (a *AsyncExecutor) Close(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	if a.stop != nil {
		a.stop()
	}
	dispatching := a.dispatching
	a.mu.Unlock()
	a.queue.Close()

	// No job can be started once the dispatcher has returned.
	if dispatching != nil {
		select {
		case <-dispatching:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.mu.Lock()
		if !a.resultsClosed {
			a.resultsClosed = true
			close(a.resultCh)
		}
		a.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
