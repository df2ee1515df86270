package bela

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/lifecycle"
	"github.com/misterbo94/Bela/internal/logging"
	"github.com/misterbo94/Bela/internal/monitor"
	"github.com/misterbo94/Bela/internal/rtprio"
	"github.com/misterbo94/Bela/internal/stopflag"
	"github.com/misterbo94/Bela/internal/sysmon"
)

// Option customizes a Core
type Option func(*Core)

// WithDriver replaces the driver selected by Settings.Driver
func WithDriver(d driver.Driver) Option {
	return func(c *Core) { c.drv = d }
}

// Core is one run of the render core: settings, driver, auxiliary tasks and
// the lifecycle that drives them
type Core struct {
	id       string
	settings Settings
	logger   *logging.ComponentLogger

	drv    driver.Driver
	stop   *stopflag.Flag
	sched  *rtprio.Scheduler
	tasks  *auxtask.Registry
	levels *levels.Controller
	ctrl   *lifecycle.Controller

	monitor *monitor.Server
	sysmon  *sysmon.Monitor
	cancel  context.CancelFunc

	diagOnce  sync.Once
	closeOnce sync.Once
}

// New builds a core for s. Settings are copied; later changes to s have no
// effect. Validation happens at Init.
func New(s Settings, opts ...Option) (*Core, error) {
	SetVerboseLevel(s.Verbose)

	c := &Core{
		id:       uuid.NewString(),
		settings: s,
		stop:     stopflag.New(),
		sched:    rtprio.New(s.RealtimeThreads),
	}
	c.logger = logging.NewComponentLogger(*logging.GetDefaultLogger(), "core").WithSubComponent(c.id[:8])
	for _, opt := range opts {
		opt(c)
	}
	if c.drv == nil {
		drv, err := newDriver(s)
		if err != nil {
			return nil, err
		}
		c.drv = drv
	}

	if s.MonitorAddr != "" {
		c.monitor = monitor.NewServer(c, monitor.Options{Addr: s.MonitorAddr, Process: c.processData})
	}

	c.tasks = auxtask.NewRegistry(c.stop, auxtask.Options{
		MaxTasks:       s.MaxAuxTasks,
		RenderPriority: s.RenderPriority,
		Scheduler:      c.sched,
		OnDegraded:     c.taskDegraded,
	})
	c.levels = levels.NewController(codecFor(c.drv), c.inRender)
	c.ctrl = lifecycle.New(lifecycle.Options{
		Driver:    c.drv,
		Registry:  c.tasks,
		Stop:      c.stop,
		Scheduler: c.sched,
		Levels:    c.levels,
	})
	if c.monitor != nil {
		c.ctrl.AddListener(c.monitor.Events().StateChanged)
	}

	c.logger.GetLogger().Info().
		Str("run", c.id).
		Str("driver", c.drv.Name()).
		Int("period", s.PeriodSize).
		Bool("realtime", s.RealtimeThreads).
		Msg("render core created")
	return c, nil
}

func (c *Core) inRender() bool { return c.ctrl != nil && c.ctrl.InRender() }

func (c *Core) taskDegraded(ev auxtask.DegradedEvent) {
	c.logger.GetLogger().Debug().
		Str("task", ev.Name).
		Str("reason", ev.Reason).
		Uint64("mode_switches", ev.ModeSwitches).
		Msg("auxiliary task left the expedited domain")
	if c.monitor != nil {
		c.monitor.Events().TaskDegraded(ev)
	}
}

func (c *Core) processData() *monitor.ProcessData {
	if c.sysmon == nil {
		return nil
	}
	s := c.sysmon.Last()
	if s.Timestamp.IsZero() {
		return nil
	}
	return &monitor.ProcessData{
		CPUPercent:    s.CPUPercent,
		MemoryPercent: s.MemoryPercent,
		MemoryRSS:     s.MemoryRSS,
		Threads:       s.Threads,
	}
}

// ID identifies this run in logs and diagnostics
func (c *Core) ID() string { return c.id }

// Settings returns the settings of this run
func (c *Core) Settings() Settings { return c.settings }

// Init validates the settings, opens the driver and runs the setup callback.
// When a monitor address is configured the diagnostics server starts here,
// once per core; a repeated Init fails without touching it.
func (c *Core) Init(prog Program, userData any) error {
	if c.monitor != nil && c.ctrl.State() == lifecycle.Uninitialized {
		c.diagOnce.Do(func() {
			if err := c.startDiagnostics(); err != nil {
				c.logger.LogWarningWithError(err, "diagnostics unavailable")
			}
		})
	}
	return c.ctrl.Initialize(c.settings, prog, userData)
}

func (c *Core) startDiagnostics() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if mon, err := sysmon.New(0); err != nil {
		c.logger.LogWarningWithError(err, "process sampling unavailable")
	} else {
		c.sysmon = mon
		mon.Start(ctx)
	}
	if err := c.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start monitor on %s: %w", c.settings.MonitorAddr, err)
	}
	return nil
}

// Start begins the render loop
func (c *Core) Start() error { return c.ctrl.Start() }

// Stop raises the stop signal. It is safe from any goroutine, including
// auxiliary tasks and signal handlers, and returns without waiting.
func (c *Core) Stop() { c.ctrl.Stop() }

// ShouldStop reports whether the stop signal is raised
func (c *Core) ShouldStop() bool { return c.stop.IsSet() }

// Done is closed when the stop signal is raised
func (c *Core) Done() <-chan struct{} { return c.stop.Done() }

// Wait blocks until the render loop exits or ctx is done
func (c *Core) Wait(ctx context.Context) error { return c.ctrl.Wait(ctx) }

// Cleanup waits for the render loop, runs the cleanup callback, joins every
// auxiliary task and releases the driver. The loop must have been stopped.
func (c *Core) Cleanup() error {
	if err := c.ctrl.CleanupAll(); err != nil {
		return err
	}
	c.closeOnce.Do(c.stopDiagnostics)
	return nil
}

func (c *Core) stopDiagnostics() {
	if c.cancel == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.monitor.Shutdown(ctx); err != nil {
		c.logger.LogWarningWithError(err, "monitor shutdown")
	}
	if c.sysmon != nil {
		c.sysmon.Stop()
	}
	c.cancel()
}

// State returns the lifecycle state
func (c *Core) State() State { return c.ctrl.State() }

// Fault returns the runtime fault that ended the render loop, if any
func (c *Core) Fault() error { return c.ctrl.Fault() }

// Elapsed returns the number of audio frames rendered so far
func (c *Core) Elapsed() uint64 { return c.ctrl.Elapsed() }

// Stats returns a snapshot of the render loop counters
func (c *Core) Stats() Stats { return c.ctrl.Stats() }

// Tasks returns a snapshot of every registered auxiliary task
func (c *Core) Tasks() []AuxTaskStats { return c.tasks.Snapshot() }

// Levels returns the last applied levels
func (c *Core) Levels() levels.State { return c.levels.State() }

// MonitorAddr returns the bound diagnostics address, empty when disabled
func (c *Core) MonitorAddr() string {
	if c.monitor == nil {
		return ""
	}
	return c.monitor.Addr()
}
