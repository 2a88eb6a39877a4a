package daemon

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tastamat/fandomon/internal/domain"
)

// DefaultWorkers bounds concurrently running tasks.
const DefaultWorkers = 4

// Workers runs alarm firings and commands off the calling goroutine with a
// bounded number in flight. A task that panics is logged and dropped.
type Workers struct {
	ctx     context.Context
	group   errgroup.Group
	pending sync.WaitGroup
	logger  *zap.Logger
}

// NewWorkers creates a pool whose tasks receive ctx.
func NewWorkers(ctx context.Context, limit int, logger *zap.Logger) *Workers {
	if limit <= 0 {
		limit = DefaultWorkers
	}
	w := &Workers{ctx: ctx, logger: logger}
	w.group.SetLimit(limit)
	return w
}

// Go schedules fn. It never blocks: when the pool is full the task waits
// for a free slot on its own goroutine.
func (w *Workers) Go(name string, fn func(ctx context.Context)) {
	w.pending.Add(1)
	task := func() error {
		defer w.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("task panicked", zap.String("task", name), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		if w.ctx.Err() != nil {
			return nil
		}
		fn(w.ctx)
		return nil
	}
	if w.group.TryGo(task) {
		return
	}
	w.logger.Debug("worker pool full, queueing task", zap.String("task", name))
	go w.group.Go(task)
}

// Wait blocks until every scheduled task, queued ones included, has returned.
func (w *Workers) Wait() {
	w.pending.Wait()
	_ = w.group.Wait()
}

var _ domain.TaskRunner = (*Workers)(nil)
