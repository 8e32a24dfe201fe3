// Package tasks tracks long-running server jobs: a shared poller behind
// the active-task list and a helper that awaits a single job.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/novelsync/internal/clock"
	"github.com/zulandar/novelsync/internal/models"
	"github.com/zulandar/novelsync/internal/observe"
)

// Poller defaults.
const (
	DefaultInterval = 3 * time.Second
	DefaultGrace    = 10 * time.Second
)

// Fetcher looks up a task by id.
type Fetcher interface {
	Task(ctx context.Context, id string) (*models.Task, error)
}

// Invalidator refreshes every cached view after an upload lands.
type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

// IsUpload reports whether a task type replaces an image shown in cached
// views.
func IsUpload(taskType string) bool {
	return taskType == models.TaskUploadAvatar || taskType == models.TaskUploadCharacterImage
}

// Opts configures a Poller.
type Opts struct {
	Fetcher     Fetcher
	Invalidator Invalidator
	Clock       clock.Clock
	Interval    time.Duration
	Grace       time.Duration
}

// Poller refreshes every pending or processing task on one shared
// interval. Terminal tasks stay listed for the grace period and are then
// removed. The loop stops when nothing is left to poll.
type Poller struct {
	fetcher     Fetcher
	invalidator Invalidator
	clock       clock.Clock
	interval    time.Duration
	grace       time.Duration

	mu      sync.Mutex
	tasks   map[string]*models.Task
	order   []string
	dismiss map[string]clock.Timer
	tick    clock.Timer
	stopped bool
	hub     observe.Hub
}

// New creates a Poller.
func New(opts Opts) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("tasks: fetcher is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Poller{
		fetcher:     opts.Fetcher,
		invalidator: opts.Invalidator,
		clock:       opts.Clock,
		interval:    opts.Interval,
		grace:       opts.Grace,
		tasks:       make(map[string]*models.Task),
		dismiss:     make(map[string]clock.Timer),
	}, nil
}

// Add registers a submitted task and starts polling if needed.
func (p *Poller) Add(task models.Task) {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.StatusText == "" {
		task.StatusText = "submitted"
	}
	if task.StartTime == nil {
		now := float64(p.clock.Now().UnixMilli()) / 1000
		task.StartTime = &now
	}

	p.mu.Lock()
	if _, ok := p.tasks[task.ID]; !ok {
		p.order = append(p.order, task.ID)
	}
	t := task
	p.tasks[task.ID] = &t
	if t.Status.IsTerminal() {
		p.scheduleDismissLocked(t.ID)
	}
	p.startLocked()
	p.mu.Unlock()
	p.hub.Notify()
}

// Tasks returns the listed tasks in submission order.
func (p *Poller) Tasks() []models.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Task, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.tasks[id])
	}
	return out
}

// Get returns one listed task.
func (p *Poller) Get(id string) (models.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return *t, true
}

// Running reports whether the poll loop is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tick != nil
}

// Subscribe registers fn for changes to the task list.
func (p *Poller) Subscribe(fn func()) func() {
	return p.hub.Subscribe(fn)
}

// Dismiss removes a task from the list.
func (p *Poller) Dismiss(id string) {
	p.mu.Lock()
	removed := p.removeLocked(id)
	p.mu.Unlock()
	if removed {
		p.hub.Notify()
	}
}

// Stop cancels the poll loop and every pending dismissal.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.tick != nil {
		p.tick.Stop()
		p.tick = nil
	}
	for id, t := range p.dismiss {
		t.Stop()
		delete(p.dismiss, id)
	}
}

func (p *Poller) removeLocked(id string) bool {
	if _, ok := p.tasks[id]; !ok {
		return false
	}
	delete(p.tasks, id)
	for i, other := range p.order {
		if other == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if t, ok := p.dismiss[id]; ok {
		t.Stop()
		delete(p.dismiss, id)
	}
	return true
}

func (p *Poller) scheduleDismissLocked(id string) {
	if _, ok := p.dismiss[id]; ok {
		return
	}
	p.dismiss[id] = p.clock.AfterFunc(p.grace, func() {
		p.mu.Lock()
		delete(p.dismiss, id)
		removed := p.removeLocked(id)
		p.mu.Unlock()
		if removed {
			p.hub.Notify()
		}
	})
}

func (p *Poller) startLocked() {
	if p.tick != nil || p.stopped {
		return
	}
	p.tick = p.clock.AfterFunc(p.interval, p.poll)
}

// poll refreshes every active task, then reschedules itself while any
// remain active.
func (p *Poller) poll() {
	p.mu.Lock()
	var active []string
	for _, id := range p.order {
		if !p.tasks[id].Status.IsTerminal() {
			active = append(active, id)
		}
	}
	if len(active) == 0 || p.stopped {
		p.tick = nil
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ctx := context.Background()
	invalidate := false
	for _, id := range active {
		updated, err := p.fetcher.Task(ctx, id)

		p.mu.Lock()
		cur, ok := p.tasks[id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		if err != nil {
			log.Printf("tasks: poll %s: %v", id, err)
			cur.Status = models.TaskFailed
			cur.Error, _ = json.Marshal(err.Error())
		} else {
			updated.ID = id
			*cur = *updated
		}
		if cur.Status.IsTerminal() {
			p.scheduleDismissLocked(id)
			if cur.Status == models.TaskSuccess && IsUpload(cur.Type) {
				invalidate = true
			}
		}
		p.mu.Unlock()
	}
	p.hub.Notify()

	if invalidate && p.invalidator != nil {
		p.invalidator.InvalidateAll(ctx)
	}

	p.mu.Lock()
	p.tick = nil
	for _, id := range p.order {
		if !p.tasks[id].Status.IsTerminal() {
			p.startLocked()
			break
		}
	}
	p.mu.Unlock()
}
