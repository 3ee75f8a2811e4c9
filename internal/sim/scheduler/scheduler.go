// Package scheduler runs delayed and repeating plugin tasks on the simulation
// goroutine. A task remembers the causes that were active when it was
// scheduled and restores them into the phase it later runs in.
package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/google/uuid"

	"phasecraft.ai/internal/sim/cause"
	"phasecraft.ai/internal/sim/phase"
)

type TaskFunc func(ctx *phase.Context) error

type Task struct {
	id       uuid.UUID
	plugin   string
	due      uint64
	interval uint64
	fn       TaskFunc
	modifier cause.Modifier

	seq   uint64
	index int
}

func (t *Task) ID() uuid.UUID            { return t.id }
func (t *Task) Plugin() string           { return t.plugin }
func (t *Task) Due() uint64              { return t.due }
func (t *Task) Repeating() bool          { return t.interval > 0 }
func (t *Task) Modifier() cause.Modifier { return t.modifier }

func (t *Task) String() string { return "task:" + t.plugin + "/" + t.id.String()[:8] }

// Scheduler is not safe for concurrent use; it belongs to the simulation
// goroutine like the tracker it runs tasks on.
type Scheduler struct {
	tr    *phase.Tracker
	queue taskQueue
	byID  map[uuid.UUID]*Task
	seq   uint64
	log   *log.Logger
}

func New(tr *phase.Tracker, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Scheduler{tr: tr, byID: map[uuid.UUID]*Task{}, log: logger}
}

// Schedule runs fn once, delay ticks after the tracker's current tick.
func (s *Scheduler) Schedule(plugin string, delay uint64, fn TaskFunc) *Task {
	return s.add(plugin, delay, 0, fn)
}

// ScheduleRepeating runs fn after delay ticks and then every interval ticks
// until cancelled. An interval of 0 is treated as 1.
func (s *Scheduler) ScheduleRepeating(plugin string, delay, interval uint64, fn TaskFunc) *Task {
	if interval == 0 {
		interval = 1
	}
	return s.add(plugin, delay, interval, fn)
}

func (s *Scheduler) add(plugin string, delay, interval uint64, fn TaskFunc) *Task {
	s.seq++
	t := &Task{
		id:       uuid.New(),
		plugin:   plugin,
		due:      s.tr.Tick() + delay,
		interval: interval,
		fn:       fn,
		modifier: cause.Capture(s.tr.Causes().Current()),
		seq:      s.seq,
	}
	heap.Push(&s.queue, t)
	s.byID[t.id] = t
	return t
}

// Cancel removes a pending task. It reports whether the task was pending.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
	return true
}

func (s *Scheduler) Pending() int { return len(s.byID) }

// Tick runs every task due at or before now, in due order and then in
// scheduling order. Tasks scheduled while running wait for a later Tick.
func (s *Scheduler) Tick(now uint64) error {
	var due []*Task
	for s.queue.Len() > 0 && s.queue[0].due <= now {
		due = append(due, heap.Pop(&s.queue).(*Task))
	}
	var errs []error
	for _, t := range due {
		if _, live := s.byID[t.id]; !live {
			continue
		}
		if err := s.run(t); err != nil {
			s.log.Printf("%s: %v", t, err)
			errs = append(errs, err)
		}
		if _, live := s.byID[t.id]; !live {
			continue
		}
		if t.interval > 0 {
			t.due = now + t.interval
			heap.Push(&s.queue, t)
		} else {
			delete(s.byID, t.id)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(t *Task) error {
	ctx := phase.PluginScheduledTask.NewContext(s.tr).
		WithFrameModifier(t.modifier).
		WithSource(t).
		WithContext(cause.Plugin, t.plugin).
		WithContext(cause.ScheduledTask, t.id.String())
	err := s.tr.Run(ctx, func(ctx *phase.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &phase.PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return t.fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("task %s: %w", t.id, err)
	}
	return nil
}

// taskQueue is a min-heap on (due, seq).
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*Task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
