package executors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tradeengine/src/controller"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
)

const bookkeepingTimeout = 10 * time.Second

type taskQueue interface {
	Claim(ctx context.Context, now time.Time, visibilityTimeout time.Duration) (*model.TradeTask, error)
	MarkDone(ctx context.Context, id uint) error
	MarkRetry(ctx context.Context, id uint, nextRunAt time.Time, lastErr string) error
	MarkDead(ctx context.Context, id uint, lastErr string) error
}

type tradeHandler interface {
	Handle(ctx context.Context, intent model.TradeIntent) (*model.Order, error)
	Abandon(ctx context.Context, idempotencyKey, reason string) error
}

type exceptionRepository interface {
	Create(ctx context.Context, exception *model.Exception) error
}

var errPanicked = errors.New("task panicked")

// Pool runs trade tasks from the queue on a fixed number of goroutines.
type Pool struct {
	tasks      taskQueue
	handler    tradeHandler
	exceptions exceptionRepository
	cfg        Config
	log        *logrus.Entry
	now        func() time.Time
}

func NewPool(tasks taskQueue, handler tradeHandler, exceptions exceptionRepository, cfg Config, log *logrus.Entry) *Pool {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		tasks:      tasks,
		handler:    handler,
		exceptions: exceptions,
		cfg:        cfg,
		log:        log.WithField("component", "worker_pool"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is done and every worker has finished its task.
func (p *Pool) Run(ctx context.Context) {
	p.log.WithField("workers", p.cfg.WorkerConcurrency).Info("Worker pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.log.Info("Worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.log.WithField("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := p.ProcessNext(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to claim trade task")
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// ProcessNext claims one task and runs it. It reports false when the queue
// had nothing runnable.
func (p *Pool) ProcessNext(ctx context.Context) (bool, error) {
	task, err := p.tasks.Claim(ctx, p.now(), p.cfg.VisibilityTimeout)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	p.process(ctx, task)
	return true, nil
}

func (p *Pool) process(ctx context.Context, task *model.TradeTask) {
	log := p.log.WithFields(logrus.Fields{
		"task_id":         task.ID,
		"idempotency_key": task.IdempotencyKey,
		"attempt":         task.Attempts,
	})

	// The outcome must be recorded even when shutdown cancelled ctx.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	intent, err := decodeIntent(task)
	if err != nil {
		p.dead(bctx, log, task, err)
		return
	}

	err = p.run(ctx, intent)
	switch {
	case err == nil:
		if merr := p.tasks.MarkDone(bctx, task.ID); merr != nil {
			log.WithError(merr).Error("Failed to complete trade task")
		}
		metrics.TasksProcessed.WithLabelValues("done").Inc()
		log.Info("Trade task done")

	case !controller.IsRetryable(err):
		log.WithError(err).Warn("Trade task failed permanently")
		p.dead(bctx, log, task, err)

	case task.Attempts >= p.maxAttempts(task):
		log.WithError(err).Error("Trade task out of attempts")
		controller.Capture(bctx, p.exceptions, "worker_pool", "executors", "process", "error", err, map[string]interface{}{
			"task_id":         task.ID,
			"idempotency_key": task.IdempotencyKey,
			"attempts":        task.Attempts,
		})
		p.dead(bctx, log, task, err)

	default:
		next := p.now().Add(p.cfg.RetryDelay)
		if merr := p.tasks.MarkRetry(bctx, task.ID, next, err.Error()); merr != nil {
			log.WithError(merr).Error("Failed to requeue trade task")
		}
		metrics.TasksProcessed.WithLabelValues("retry").Inc()
		log.WithError(err).WithField("next_run_at", next).Warn("Trade task requeued")
	}
}

// run executes one intent under the task timeout. A panic is reported as a
// retryable error.
func (p *Pool) run(ctx context.Context, intent model.TradeIntent) (err error) {
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errPanicked, rec)
		}
	}()

	_, err = p.handler.Handle(ctx, intent)
	return err
}

func (p *Pool) dead(ctx context.Context, log *logrus.Entry, task *model.TradeTask, cause error) {
	if err := p.tasks.MarkDead(ctx, task.ID, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to dead-letter trade task")
	}
	if err := p.handler.Abandon(ctx, task.IdempotencyKey, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to fail order of dead task")
	}
	metrics.TasksProcessed.WithLabelValues("dead").Inc()
}

func (p *Pool) maxAttempts(task *model.TradeTask) int {
	if task.MaxAttempts > 0 {
		return task.MaxAttempts
	}
	if p.cfg.MaxAttempts > 0 {
		return p.cfg.MaxAttempts
	}
	return 3
}
