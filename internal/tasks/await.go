package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/models"
)

// ErrTimeout is returned when an awaited task does not finish in time.
var ErrTimeout = errors.New("tasks: timed out waiting for task")

// TaskFailedError reports a task that finished as failed.
type TaskFailedError struct {
	ID      string
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("tasks: task %s failed: %s", e.ID, e.Message)
}

// AwaitOpts bounds Await.
type AwaitOpts struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
}

// Await polls one task until it succeeds, fails, or the timeout elapses.
// A failed task is returned together with a *TaskFailedError.
func Await(ctx context.Context, f Fetcher, id string, opts AwaitOpts) (*models.Task, error) {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	start := opts.Clock.Now()

	for {
		task, err := f.Task(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("tasks: poll %s: %w", id, err)
		}
		switch task.Status {
		case models.TaskSuccess:
			return task, nil
		case models.TaskFailed:
			return task, &TaskFailedError{ID: id, Message: task.ErrorText()}
		}
		if opts.Clock.Now().Sub(start) >= opts.Timeout {
			return task, fmt.Errorf("%w %s after %s", ErrTimeout, id, opts.Timeout)
		}
		if err := sleep(ctx, opts.Clock, opts.Interval); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	done := make(chan struct{})
	t := c.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
