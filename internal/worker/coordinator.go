package worker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// Outcome is how a single task ended.
type Outcome int

const (
	// Succeeded means a valid result was committed.
	Succeeded Outcome = iota
	// Sentinel means a failure marker was committed in place of a result.
	Sentinel
	// Failed means nothing was committed; the item stays selectable.
	Failed
	// Skipped means another worker already handled the item.
	Skipped
	// Cancelled means the task stopped because its context ended.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Sentinel:
		return "sentinel"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Task is one unit of work identified by a key. Two tasks with the same key
// never run at the same time.
type Task struct {
	Key string
	Run func(ctx context.Context) Outcome
}

// Coordinator runs tasks on a bounded pool. The set of in-flight keys is
// shared by every Process call on the same Coordinator.
type Coordinator struct {
	workers int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator creates a coordinator with the given pool size.
func NewCoordinator(workers int) *Coordinator {
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{workers: workers, inflight: make(map[string]struct{})}
}

// Workers returns the pool size.
func (c *Coordinator) Workers() int {
	return c.workers
}

// Process runs tasks with at most Workers() in parallel and blocks until
// every launched task returns. A key that is already in flight is counted
// as skipped. Once ctx is cancelled no new task is launched; tasks not
// launched are counted as Cancelled.
func (c *Coordinator) Process(ctx context.Context, tasks []Task) Counts {
	progress := NewProgress(len(tasks))

	var g errgroup.Group
	g.SetLimit(c.workers)

	for i, t := range tasks {
		if ctx.Err() != nil {
			progress.Cancel(len(tasks) - i)
			break
		}
		if !c.claim(t.Key) {
			zap.L().Debug("task already in flight", zap.String("key", t.Key))
			progress.Record(Skipped)
			continue
		}

		g.Go(func() error {
			defer c.release(t.Key)
			if ctx.Err() != nil {
				progress.Cancel(1)
				return nil
			}
			progress.Record(t.Run(ctx))
			return nil
		})
	}

	_ = g.Wait()
	return progress.Snapshot()
}

func (c *Coordinator) claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return false
	}
	c.inflight[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
}
