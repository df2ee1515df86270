// Package lifecycle drives the render core through setup, the periodic render
// loop, stop and cleanup, and owns the render thread.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/driver"
	rterrors "github.com/misterbo94/Bela/internal/errors"
	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/logging"
	"github.com/misterbo94/Bela/internal/rtprio"
	"github.com/misterbo94/Bela/internal/stopflag"
)

var (
	ErrInvalidState = errors.New("invalid lifecycle state")
	ErrNoProgram    = errors.New("no program")
	ErrSetupFailed  = errors.New("setup returned false")
	ErrSetupPanic   = errors.New("setup panicked")
	ErrRenderPanic  = errors.New("render panicked")
	ErrLoopRunning  = errors.New("render loop still running, call Stop first")
)

// Options wires the controller to the rest of the core
type Options struct {
	Driver    driver.Driver
	Registry  *auxtask.Registry
	Stop      *stopflag.Flag
	Scheduler *rtprio.Scheduler
	// Levels, when set, receives the initial level settings at Initialize
	Levels *levels.Controller
}

// Controller is the lifecycle state machine
type Controller struct {
	opts   Options
	logger *logging.ComponentLogger

	// mu serialises transitions; user callbacks and task teardown run without it
	mu          sync.Mutex
	state       atomic.Int32
	listeners   []StateListener
	sess        atomic.Pointer[session]
	prog        Program
	userData    any
	setupOK     bool
	loopDone    chan struct{}
	cleanupDone chan struct{}
	fault       atomic.Pointer[faultBox]

	renderMu    sync.Mutex
	inRender    atomic.Bool
	invocations atomic.Uint64
	overruns    atomic.Uint64
	latency     *LatencyTracker
}

// session is fixed by Initialize and read without locking afterwards
type session struct {
	settings config.Settings
	geom     exchange.Geometry
	xch      *exchange.Exchange
	period   time.Duration
}

type faultBox struct{ err error }

// New creates a controller in the Uninitialized state
func New(opts Options) *Controller {
	if opts.Stop == nil {
		opts.Stop = stopflag.New()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = rtprio.New(false)
	}
	if opts.Registry == nil {
		opts.Registry = auxtask.NewRegistry(opts.Stop, auxtask.Options{Scheduler: opts.Scheduler})
	}
	return &Controller{
		opts:    opts,
		logger:  logging.NewComponentLogger(*logging.GetDefaultLogger(), "lifecycle"),
		latency: NewLatencyTracker(),
	}
}

// AddListener registers fn for state transitions
func (c *Controller) AddListener(fn StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current state
func (c *Controller) State() State { return State(c.state.Load()) }

// Registry returns the auxiliary task registry of this run
func (c *Controller) Registry() *auxtask.Registry { return c.opts.Registry }

// StopFlag returns the process stop signal
func (c *Controller) StopFlag() *stopflag.Flag { return c.opts.Stop }

// Geometry returns the run geometry, valid from Initialized on
func (c *Controller) Geometry() exchange.Geometry {
	if sess := c.sess.Load(); sess != nil {
		return sess.geom
	}
	return exchange.Geometry{}
}

// Settings returns the settings copied at Initialize
func (c *Controller) Settings() config.Settings {
	if sess := c.sess.Load(); sess != nil {
		return sess.settings
	}
	return config.Settings{}
}

// transition must be called with mu held
func (c *Controller) transition(to State, reason string) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.logger.LogStateTransition(from.String(), to.String(), reason)
	for _, fn := range c.listeners {
		fn(from, to, reason)
	}
}

// fail moves to Failed, releases what Initialize acquired and returns err
func (c *Controller) fail(err error, driverOpen bool) error {
	c.transition(Failed, err.Error())
	c.opts.Stop.Set()
	c.opts.Registry.Teardown()
	if driverOpen {
		if cerr := c.opts.Driver.Close(); cerr != nil {
			c.logger.LogWarningWithError(cerr, "failed to close driver")
		}
	}
	return err
}

// Initialize copies and validates s, opens the driver and runs the setup
// callback. Any failure moves the controller to Failed and nothing keeps running.
// The setup callback runs without the controller lock held, so it may read the
// controller.
func (c *Controller) Initialize(s config.Settings, prog Program, userData any) error {
	const op = "initialize"

	c.mu.Lock()
	err := c.configure(op, s, prog, userData)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	start := time.Now()
	ok, err := c.runSetup()
	c.logger.LogOperationTrace("setup", time.Since(start), err == nil && ok)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		return c.fail(rterrors.Configuration(op, err), true)
	}
	if !ok {
		return c.fail(rterrors.Configuration(op, ErrSetupFailed), true)
	}
	c.setupOK = true
	c.transition(Initialized, "setup succeeded")
	return nil
}

// configure must be called with mu held. It leaves the controller in
// Configured with the driver open, or returns the error that ended the attempt.
func (c *Controller) configure(op string, s config.Settings, prog Program, userData any) error {
	if st := c.State(); st != Uninitialized {
		return rterrors.State(op, fmt.Errorf("%w: %s", ErrInvalidState, st))
	}
	c.transition(Configured, "settings accepted")

	if prog == nil {
		return c.fail(rterrors.Configuration(op, ErrNoProgram), false)
	}
	if c.opts.Driver == nil {
		return c.fail(rterrors.Configuration(op, errors.New("no driver")), false)
	}

	g, err := exchange.NewGeometry(s)
	if err != nil {
		c.logger.LogValidationError(err, "settings", s)
		return c.fail(rterrors.Configuration(op, err), false)
	}
	c.sess.Store(&session{
		settings: s,
		geom:     g,
		xch:      exchange.New(g),
		period:   time.Duration(g.PeriodSeconds() * float64(time.Second)),
	})
	c.prog = prog
	c.userData = userData
	c.logHardware(s)

	if err := c.opts.Driver.Open(g); err != nil {
		return c.fail(rterrors.Resource(op, fmt.Errorf("open driver %s: %w", c.opts.Driver.Name(), err)), false)
	}
	if c.opts.Levels != nil {
		if err := c.opts.Levels.Apply(s); err != nil {
			return c.fail(err, true)
		}
	}
	if s.RealtimeThreads {
		if err := c.opts.Scheduler.LockMemory(); err != nil {
			c.logger.LogWarningWithError(err, "failed to lock memory")
		}
	}
	return nil
}

// logHardware records the board description carried by the settings
func (c *Controller) logHardware(s config.Settings) {
	logging.GetSubsystemLogger("hardware").Debug().
		Str("driver", string(s.Driver)).
		Int("mux_channels", s.NumMuxChannels).
		Int("pru_number", s.PRUNumber).
		Str("pru_filename", s.PRUFilename).
		Str("codec_i2c_address", fmt.Sprintf("%#02x", s.CodecI2CAddress)).
		Int("amp_mute_pin", s.AmpMutePin).
		Msg("hardware settings")
}

func (c *Controller) runSetup() (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: %v", ErrSetupPanic, r)
		}
	}()
	return c.prog.Setup(c.sess.Load().xch.SetupContext(), c.userData), nil
}

// Start seals the task registry and begins the render loop on a dedicated
// thread. It returns once the loop is running.
func (c *Controller) Start() error {
	const op = "start"

	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != Initialized || c.cleanupDone != nil {
		return rterrors.State(op, fmt.Errorf("%w: %s", ErrInvalidState, st))
	}
	c.opts.Registry.Seal()

	if err := c.opts.Driver.Start(); err != nil {
		return c.fail(rterrors.Resource(op, fmt.Errorf("start driver %s: %w", c.opts.Driver.Name(), err)), true)
	}

	c.loopDone = make(chan struct{})
	c.transition(Running, "render loop started")

	ready := make(chan struct{})
	go c.loop(ready)
	<-ready
	return nil
}

// Stop raises the stop signal. It is idempotent and does not wait for the loop.
func (c *Controller) Stop() {
	if c.opts.Stop.Set() {
		c.logger.GetLogger().Debug().Str("state", c.State().String()).Msg("stop requested")
	}
}

// Wait blocks until the render loop has exited or ctx is done. It returns at
// once when the loop was never started.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanupAll waits for the render loop and any in-flight render to finish,
// runs the cleanup callback, tears down the auxiliary tasks, closes the driver
// and moves to Cleaned. The callback and the teardown run without the
// controller lock, so both may read the controller. A concurrent call waits for
// the first one to finish.
func (c *Controller) CleanupAll() error {
	const op = "cleanup"

	c.mu.Lock()
	st := c.State()
	switch st {
	case Cleaned, Failed:
		c.mu.Unlock()
		return nil
	case Uninitialized, Configured:
		c.mu.Unlock()
		return rterrors.State(op, fmt.Errorf("%w: %s", ErrInvalidState, st))
	case Running:
		if !c.opts.Stop.IsSet() {
			c.mu.Unlock()
			return rterrors.State(op, ErrLoopRunning)
		}
	}
	if inFlight := c.cleanupDone; inFlight != nil {
		c.mu.Unlock()
		<-inFlight
		return nil
	}
	finished := make(chan struct{})
	c.cleanupDone = finished
	done := c.loopDone
	setupOK := c.setupOK
	c.mu.Unlock()
	defer close(finished)

	if done != nil {
		<-done
	}
	c.opts.Stop.Set()

	// Barrier against a render still holding the buffers
	c.renderMu.Lock()
	c.renderMu.Unlock() //nolint:staticcheck

	if setupOK {
		c.runCleanup()
	}
	c.opts.Registry.Teardown()
	if err := c.opts.Driver.Close(); err != nil {
		c.logger.LogWarningWithError(err, "failed to close driver")
	}

	c.mu.Lock()
	c.transition(Cleaned, "cleanup complete")
	c.mu.Unlock()
	return nil
}

func (c *Controller) runCleanup() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.GetLogger().Error().Interface("panic", r).Msg("cleanup callback panicked")
		}
	}()
	c.prog.Cleanup(c.sess.Load().xch.SetupContext(), c.userData)
}

// Fault returns the runtime fault that ended the loop, if any
func (c *Controller) Fault() error {
	if f := c.fault.Load(); f != nil {
		return f.err
	}
	return nil
}

// InRender reports whether a render invocation is in flight
func (c *Controller) InRender() bool { return c.inRender.Load() }

// Invocations returns the number of completed render invocations
func (c *Controller) Invocations() uint64 { return c.invocations.Load() }

// Overruns returns the number of render invocations longer than a period
func (c *Controller) Overruns() uint64 { return c.overruns.Load() }

// Elapsed returns the audio frames rendered so far
func (c *Controller) Elapsed() uint64 {
	sess := c.sess.Load()
	if sess == nil {
		return 0
	}
	return sess.xch.Elapsed()
}

// Stats is a snapshot of the render loop
type Stats struct {
	State        State
	Invocations  uint64
	Overruns     uint64
	Elapsed      uint64
	Period       time.Duration
	LastRender   time.Duration
	MaxRender    time.Duration
	AvgRender    time.Duration
	RenderSample int64
}

// Stats returns a snapshot of the render loop counters
func (c *Controller) Stats() Stats {
	current, _, maxLatency, avg, samples := c.latency.GetLatencyStats()
	var period time.Duration
	if sess := c.sess.Load(); sess != nil {
		period = sess.period
	}
	return Stats{
		State:        c.State(),
		Invocations:  c.invocations.Load(),
		Overruns:     c.overruns.Load(),
		Elapsed:      c.Elapsed(),
		Period:       period,
		LastRender:   current,
		MaxRender:    maxLatency,
		AvgRender:    avg,
		RenderSample: samples,
	}
}
