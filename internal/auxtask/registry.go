// Package auxtask runs user work in the background at priorities below the
// render thread. Tasks are created before the run starts, addressed by
// generation-checked handles and woken through a coalescing flag, so the render
// thread can schedule them every period without blocking or queueing.
package auxtask

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/misterbo94/Bela/internal/config"
	rterrors "github.com/misterbo94/Bela/internal/errors"
	"github.com/misterbo94/Bela/internal/logging"
	"github.com/misterbo94/Bela/internal/rtprio"
	"github.com/misterbo94/Bela/internal/stopflag"
)

// Options configures a Registry. Zero values pick defaults.
type Options struct {
	// MaxTasks caps the number of registered tasks
	MaxTasks int
	// MaxContexts caps the number of started execution contexts
	MaxContexts int
	// RenderPriority is the exclusive upper bound for task priorities
	RenderPriority int
	// Scheduler applies thread priorities to started tasks
	Scheduler *rtprio.Scheduler
	// OnDegraded is called from the task goroutine when a task leaves the expedited domain
	OnDegraded func(DegradedEvent)
}

// Registry owns every auxiliary task of a run
type Registry struct {
	opts Options
	stop *stopflag.Flag
	cpu  cpu

	mu       sync.RWMutex
	slots    []*task
	gens     []uint32
	auto     []*task
	names    map[string]Handle
	contexts int

	sealed   atomic.Bool
	tornDown atomic.Bool
	wg       sync.WaitGroup

	logger *logging.ComponentLogger
}

// NewRegistry creates a registry whose tasks observe stop
func NewRegistry(stop *stopflag.Flag, opts Options) *Registry {
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = config.GetConfig().DefaultMaxAuxTasks
	}
	if opts.MaxContexts <= 0 {
		opts.MaxContexts = opts.MaxTasks
	}
	if opts.RenderPriority <= 0 {
		opts.RenderPriority = config.RenderPriority
	}
	if opts.Scheduler == nil {
		opts.Scheduler = rtprio.New(false)
	}
	return &Registry{
		opts:   opts,
		stop:   stop,
		names:  make(map[string]Handle),
		logger: logging.NewComponentLogger(*logging.GetDefaultLogger(), "aux-task-registry"),
	}
}

// Create registers a task. It fails without side effects when the registry is
// sealed, when the name is taken, or when priority is outside [0, MaxPriority]
// or not strictly below the render priority.
func (r *Registry) Create(fn Func, priority int, name string, opts ...Option) (Handle, error) {
	const op = "create auxiliary task"

	switch {
	case r.tornDown.Load():
		return InvalidHandle, rterrors.State(op, ErrRegistryTornDown)
	case r.sealed.Load():
		return InvalidHandle, rterrors.State(op, ErrRegistrySealed)
	case fn == nil:
		return InvalidHandle, rterrors.Configuration(op, ErrNilFunc)
	case name == "":
		return InvalidHandle, rterrors.Configuration(op, ErrEmptyName)
	case priority < 0 || priority > config.MaxPriority:
		return InvalidHandle, rterrors.Configuration(op, fmt.Errorf("%w: %d not in [0, %d]", ErrPriorityRange, priority, config.MaxPriority))
	case priority >= r.opts.RenderPriority:
		return InvalidHandle, rterrors.Configuration(op, fmt.Errorf("%w: %d >= %d", ErrPriorityTooHigh, priority, r.opts.RenderPriority))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.names[name]; dup {
		return InvalidHandle, rterrors.Configuration(op, fmt.Errorf("%w: %q", ErrDuplicateName, name))
	}
	if len(r.names) >= r.opts.MaxTasks {
		return InvalidHandle, rterrors.Resource(op, fmt.Errorf("%w: %d", ErrTooManyTasks, r.opts.MaxTasks))
	}

	t := newTask(fn, priority, name, opts)
	index := len(r.slots)
	t.handle = makeHandle(index, 1)
	t.logger = r.logger.GetLogger().With().Str("task", name).Int("priority", priority).Logger()

	r.slots = append(r.slots, t)
	r.gens = append(r.gens, 1)
	if t.autoSchedule {
		r.auto = append(r.auto, t)
	}
	r.names[name] = t.handle

	t.logger.Debug().Str("handle", t.handle.String()).Bool("auto_schedule", t.autoSchedule).Msg("auxiliary task created")
	return t.handle, nil
}

// Start provisions the execution context of h and waits until it is parked.
// Starting an already started task is a no-op.
func (r *Registry) Start(h Handle) error {
	t, err := r.lookup(h)
	if err != nil {
		return rterrors.State("start auxiliary task", err)
	}
	if err := r.start(t); err != nil {
		return err
	}
	select {
	case <-t.parked:
	case <-r.stop.Done():
	}
	return nil
}

func (r *Registry) start(t *task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.started.Load() || r.stop.IsSet() {
		return nil
	}
	if r.contexts >= r.opts.MaxContexts {
		return rterrors.Resource("start auxiliary task", fmt.Errorf("%w: %d in use", ErrNoContexts, r.contexts))
	}

	r.contexts++
	t.started.Store(true)
	r.wg.Add(1)
	go r.worker(t)
	return nil
}

// Schedule wakes h without blocking, starting it first when needed. Requests
// made while a wake is already pending coalesce into that wake. After the stop
// signal Schedule does nothing.
func (r *Registry) Schedule(h Handle) error {
	if r.stop.IsSet() {
		return nil
	}
	t, err := r.lookup(h)
	if err != nil {
		return rterrors.State("schedule auxiliary task", err)
	}
	if !t.started.Load() {
		if err := r.start(t); err != nil {
			return err
		}
	}
	r.signal(t)
	return nil
}

func (r *Registry) signal(t *task) {
	t.schedules.Add(1)
	if !t.pending.CompareAndSwap(false, true) {
		t.coalesced.Add(1)
		return
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// AutoScheduleAll schedules every task created with WithAutoSchedule. The render
// loop calls it once per period.
func (r *Registry) AutoScheduleAll() {
	if r.stop.IsSet() {
		return
	}
	r.mu.RLock()
	auto := r.auto
	r.mu.RUnlock()

	for _, t := range auto {
		if !t.started.Load() {
			if err := r.start(t); err != nil {
				t.logger.Warn().Err(err).Msg("auto-scheduled task could not be started")
				continue
			}
		}
		r.signal(t)
	}
}

// Seal rejects further creates. Called when the run enters Running.
func (r *Registry) Seal() {
	if r.sealed.CompareAndSwap(false, true) {
		r.logger.GetLogger().Debug().Int("tasks", r.Len()).Msg("registry sealed")
	}
}

// Sealed reports whether the registry accepts creates
func (r *Registry) Sealed() bool { return r.sealed.Load() }

// Teardown raises the stop signal, waits for every execution context to exit
// and invalidates all handles. It never times out: a task that ignores the stop
// signal blocks teardown, and the tasks still running are logged periodically.
func (r *Registry) Teardown() {
	if !r.tornDown.CompareAndSwap(false, true) {
		return
	}
	r.logger.LogComponentStopping()

	// start checks the flag under mu, so every wg.Add happens before Wait
	r.mu.Lock()
	r.stop.Set()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(config.GetConfig().TeardownWarnInterval)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		case <-ticker.C:
			r.logger.GetLogger().Warn().Strs("tasks", r.runningNames()).Msg("still waiting for auxiliary tasks to observe the stop signal")
		}
	}

	r.mu.Lock()
	for i := range r.slots {
		r.slots[i] = nil
		r.gens[i]++
		if r.gens[i] == 0 {
			r.gens[i] = 1
		}
	}
	r.names = make(map[string]Handle)
	r.auto = nil
	r.contexts = 0
	r.mu.Unlock()

	r.logger.LogComponentStopped()
}

func (r *Registry) runningNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, t := range r.slots {
		if t != nil && t.running.Load() {
			names = append(names, t.name)
		}
	}
	return names
}

// Len returns the number of registered tasks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Lookup returns the handle registered under name
func (r *Registry) Lookup(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.names[name]
	return h, ok
}

// Stats returns a snapshot of h
func (r *Registry) Stats(h Handle) (Stats, error) {
	t, err := r.lookup(h)
	if err != nil {
		return Stats{}, rterrors.State("auxiliary task stats", err)
	}
	return t.stats(), nil
}

// Snapshot returns the stats of every registered task in creation order
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.names))
	for _, t := range r.slots {
		if t != nil {
			out = append(out, t.stats())
		}
	}
	return out
}

// ReadyCount returns the number of expedited tasks waiting for the cpu
func (r *Registry) ReadyCount() int { return r.cpu.readyCount() }

func (r *Registry) lookup(h Handle) (*task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !h.Valid() {
		return nil, ErrInvalidHandle
	}
	i := h.index()
	if i >= len(r.slots) || r.gens[i] != h.generation() || r.slots[i] == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return r.slots[i], nil
}
