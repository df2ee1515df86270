package auxtask

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	rterrors "github.com/misterbo94/Bela/internal/errors"
)

// Func is the body of an auxiliary task. It runs once per wake and must poll
// tc.ShouldStop or tc.Done regularly when it loops.
type Func func(tc *TaskContext)

// Option configures a task at creation
type Option func(*task)

// WithArgs attaches a value returned by TaskContext.Args
func WithArgs(args any) Option {
	return func(t *task) { t.args = args }
}

// WithAutoSchedule schedules the task once per render period
func WithAutoSchedule() Option {
	return func(t *task) { t.autoSchedule = true }
}

type task struct {
	handle       Handle
	name         string
	priority     int
	fn           Func
	args         any
	autoSchedule bool

	// pending is the level-triggered wake flag; wake carries at most one token
	pending atomic.Bool
	wake    chan struct{}

	started atomic.Bool
	running atomic.Bool
	domain  atomic.Int32
	waiter  *waiter
	parked  chan struct{}
	// arbitrated is set by the worker before the first invocation: false when
	// the kernel schedules the thread at the task priority
	arbitrated bool

	schedules    atomic.Uint64
	coalesced    atomic.Uint64
	executions   atomic.Uint64
	modeSwitches atomic.Uint64
	panics       atomic.Uint64
	lastRunNanos atomic.Int64

	logger zerolog.Logger
}

func newTask(fn Func, priority int, name string, opts []Option) *task {
	t := &task{
		name:       name,
		priority:   priority,
		fn:         fn,
		wake:       make(chan struct{}, 1),
		waiter:     newWaiter(priority),
		parked:     make(chan struct{}),
		arbitrated: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Stats is a snapshot of a task's counters and state
type Stats struct {
	Handle       Handle
	Name         string
	Priority     int
	AutoSchedule bool
	Started      bool
	Running      bool
	Pending      bool
	Domain       Domain
	Schedules    uint64
	Coalesced    uint64
	Executions   uint64
	ModeSwitches uint64
	Panics       uint64
	LastRun      time.Duration
}

func (t *task) stats() Stats {
	return Stats{
		Handle:       t.handle,
		Name:         t.name,
		Priority:     t.priority,
		AutoSchedule: t.autoSchedule,
		Started:      t.started.Load(),
		Running:      t.running.Load(),
		Pending:      t.pending.Load(),
		Domain:       Domain(t.domain.Load()),
		Schedules:    t.schedules.Load(),
		Coalesced:    t.coalesced.Load(),
		Executions:   t.executions.Load(),
		ModeSwitches: t.modeSwitches.Load(),
		Panics:       t.panics.Load(),
		LastRun:      time.Duration(t.lastRunNanos.Load()),
	}
}

// TaskContext is handed to a task body for the duration of one invocation
type TaskContext struct {
	reg *Registry
	t   *task
}

// Name returns the task name
func (tc *TaskContext) Name() string { return tc.t.name }

// Handle returns the task handle
func (tc *TaskContext) Handle() Handle { return tc.t.handle }

// Priority returns the task priority
func (tc *TaskContext) Priority() int { return tc.t.priority }

// Args returns the value given to WithArgs
func (tc *TaskContext) Args() any { return tc.t.args }

// Domain returns the domain the invocation currently runs in
func (tc *TaskContext) Domain() Domain { return Domain(tc.t.domain.Load()) }

// ShouldStop reports whether the process stop signal has been raised. In the
// expedited domain it is also a checkpoint, so a task polling it in a loop
// gives way to ready tasks of equal or higher priority.
func (tc *TaskContext) ShouldStop() bool {
	if tc.reg.stop.IsSet() {
		return true
	}
	tc.Checkpoint()
	return tc.reg.stop.IsSet()
}

// Done returns a channel closed when the stop signal is raised
func (tc *TaskContext) Done() <-chan struct{} { return tc.reg.stop.Done() }

// RequestStop raises the process stop signal. The render loop exits at its next
// period boundary.
func (tc *TaskContext) RequestStop() { tc.reg.stop.Set() }

// Checkpoint gives the cpu to a ready task of equal or higher priority and
// returns once this task is running again. Degraded invocations and tasks the
// kernel schedules by priority are not arbitrated, so Checkpoint returns
// immediately for them.
func (tc *TaskContext) Checkpoint() {
	if !tc.t.arbitrated || tc.Domain() != Expedited {
		return
	}
	tc.reg.cpu.yield(tc.t.waiter)
}

// Blocking runs fn outside the deterministic path. The first call in an
// invocation demotes the task to the degraded domain and frees the cpu for
// other tasks; the demotion lasts until the invocation returns.
func (tc *TaskContext) Blocking(fn func() error) error {
	tc.degrade("blocking call")
	return fn()
}

// Sleep pauses the task for d or until the stop signal is raised. Sleeping is
// a blocking call and demotes the invocation.
func (tc *TaskContext) Sleep(d time.Duration) {
	_ = tc.Blocking(func() error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-tc.Done():
		}
		return nil
	})
}

func (tc *TaskContext) degrade(reason string) {
	t := tc.t
	if !t.domain.CompareAndSwap(int32(Expedited), int32(Degraded)) {
		return
	}
	t.modeSwitches.Add(1)
	tc.reg.cpu.release(t.waiter)

	t.logger.Debug().
		Str("category", string(rterrors.CategoryDegradedExecution)).
		Str("reason", reason).
		Uint64("mode_switches", t.modeSwitches.Load()).
		Msg("task left the expedited domain")

	if hook := tc.reg.opts.OnDegraded; hook != nil {
		hook(DegradedEvent{Handle: t.handle, Name: t.name, Reason: reason, ModeSwitches: t.modeSwitches.Load()})
	}
}

// DegradedEvent describes a domain switch
type DegradedEvent struct {
	Handle       Handle
	Name         string
	Reason       string
	ModeSwitches uint64
}

// invoke runs one execution of the task body on the worker goroutine
func (t *task) invoke(reg *Registry) {
	t.domain.Store(int32(Expedited))
	if t.arbitrated {
		reg.cpu.acquire(t.waiter)
	}
	if reg.stop.IsSet() {
		reg.cpu.release(t.waiter)
		return
	}
	t.running.Store(true)

	start := time.Now()
	tc := &TaskContext{reg: reg, t: t}
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			t.logger.Error().Interface("panic", r).Msg("task execution panic recovered")
		}
		t.lastRunNanos.Store(int64(time.Since(start)))
		t.executions.Add(1)
		t.running.Store(false)
		if t.arbitrated && Domain(t.domain.Load()) == Expedited {
			reg.cpu.release(t.waiter)
		}
	}()

	t.fn(tc)
}
