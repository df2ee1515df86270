package lifecycle

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/driver/sim"
	rterrors "github.com/misterbo94/Bela/internal/errors"
	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/logging"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func newController(t *testing.T, opts sim.Options) (*Controller, *sim.Driver) {
	t.Helper()
	drv := sim.New(opts)
	c := New(Options{Driver: drv})
	return c, drv
}

func waitLoop(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
}

func TestFullLifecycleReachesCleaned(t *testing.T) {
	c, drv := newController(t, sim.Options{Mode: sim.FreeRun})

	var mu sync.Mutex
	var calls []string
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	var transitions []State
	c.AddListener(func(from, to State, reason string) { transitions = append(transitions, to) })

	var renders atomic.Uint64
	var renderedAfterStop atomic.Bool
	prog := Funcs{
		SetupFunc: func(ctx *exchange.RenderContext, userData any) bool {
			assert.False(t, ctx.Live(), "setup gets no live buffers")
			assert.Equal(t, "user", userData)
			record("setup")
			return true
		},
		RenderFunc: func(ctx *exchange.RenderContext, userData any) {
			if c.StopFlag().IsSet() {
				renderedAfterStop.Store(true)
			}
			if renders.Add(1) == 1 {
				record("render")
			}
		},
		CleanupFunc: func(ctx *exchange.RenderContext, userData any) { record("cleanup") },
	}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, "user"))
	assert.Equal(t, Initialized, c.State())
	require.NoError(t, c.Start())
	assert.Equal(t, Running, c.State())

	require.Eventually(t, func() bool { return c.Invocations() >= 10 }, waitFor, tick)
	c.Stop()
	c.Stop()
	waitLoop(t, c)
	assert.Equal(t, Stopping, c.State())

	require.NoError(t, c.CleanupAll())
	assert.Equal(t, Cleaned, c.State())

	assert.False(t, renderedAfterStop.Load(), "no render after stop was observed")
	assert.Equal(t, renders.Load(), c.Invocations())
	assert.Equal(t, []string{"setup", "render", "cleanup"}, calls)
	assert.Equal(t, []State{Configured, Initialized, Running, Stopping, Cleaned}, transitions)
	assert.Equal(t, drv.Committed(), drv.Delivered())
	assert.NoError(t, c.Fault())
}

func TestElapsedCounter(t *testing.T) {
	c, drv := newController(t, sim.Options{Mode: sim.Manual})

	var mu sync.Mutex
	var seen []uint64
	prog := Funcs{RenderFunc: func(ctx *exchange.RenderContext, _ any) {
		mu.Lock()
		seen = append(seen, ctx.AudioFramesElapsed)
		mu.Unlock()
	}}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.Start())
	assert.Zero(t, c.Elapsed())

	const k = 6
	drv.Step(k)
	require.Eventually(t, func() bool { return c.Invocations() == k }, waitFor, tick)

	period := uint64(config.DefaultPeriodSize)
	assert.Equal(t, k*period, c.Elapsed())
	mu.Lock()
	for i, v := range seen {
		assert.Equal(t, uint64(i)*period, v)
	}
	mu.Unlock()

	c.Stop()
	waitLoop(t, c)
	require.NoError(t, c.CleanupAll())
}

func TestSetupFalseFails(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	var cleaned, rendered atomic.Bool

	prog := Funcs{
		SetupFunc: func(ctx *exchange.RenderContext, _ any) bool {
			_, err := c.Registry().Create(func(tc *auxtask.TaskContext) {}, 10, "helper")
			require.NoError(t, err)
			return false
		},
		RenderFunc:  func(*exchange.RenderContext, any) { rendered.Store(true) },
		CleanupFunc: func(*exchange.RenderContext, any) { cleaned.Store(true) },
	}

	err := c.Initialize(config.DefaultSettings(), prog, nil)
	assert.ErrorIs(t, err, ErrSetupFailed)
	assert.Equal(t, Failed, c.State())
	assert.Zero(t, c.Registry().Len(), "registry torn down on failure")

	err = c.Start()
	assert.True(t, rterrors.IsState(err))
	assert.NoError(t, c.CleanupAll())
	assert.False(t, cleaned.Load())
	assert.False(t, rendered.Load())
}

func TestSetupPanicFails(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	prog := Funcs{SetupFunc: func(*exchange.RenderContext, any) bool { panic("bad setup") }}

	err := c.Initialize(config.DefaultSettings(), prog, nil)
	assert.ErrorIs(t, err, ErrSetupPanic)
	assert.Equal(t, Failed, c.State())
}

func TestInvalidSettingsFail(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	s := config.DefaultSettings()
	s.NumAudioOutChannels = 1

	err := c.Initialize(s, Funcs{}, nil)
	assert.ErrorIs(t, err, config.ErrChannelAsymmetry)
	assert.True(t, rterrors.IsConfiguration(err))
	assert.Equal(t, Failed, c.State())

	err = c.Initialize(config.DefaultSettings(), Funcs{}, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNilProgramFails(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	err := c.Initialize(config.DefaultSettings(), nil, nil)
	assert.ErrorIs(t, err, ErrNoProgram)
	assert.Equal(t, Failed, c.State())
}

func TestStopFromAuxiliaryTask(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.Realtime})

	var stopper auxtask.Handle
	var renderedAfterStop atomic.Bool
	var renders atomic.Uint64
	prog := Funcs{
		SetupFunc: func(*exchange.RenderContext, any) bool {
			var err error
			stopper, err = c.Registry().Create(func(tc *auxtask.TaskContext) { tc.RequestStop() }, 50, "stopper")
			return err == nil
		},
		RenderFunc: func(ctx *exchange.RenderContext, _ any) {
			if c.StopFlag().IsSet() {
				renderedAfterStop.Store(true)
			}
			if renders.Add(1) == 3 {
				_ = c.Registry().Schedule(stopper)
			}
		},
	}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.Start())
	waitLoop(t, c)

	assert.Equal(t, Stopping, c.State())
	assert.False(t, renderedAfterStop.Load())
	assert.GreaterOrEqual(t, c.Invocations(), uint64(3))
	require.NoError(t, c.CleanupAll())
	assert.Equal(t, Cleaned, c.State())
}

func TestDriverFaultStopsLoop(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun, FaultAt: 5})

	require.NoError(t, c.Initialize(config.DefaultSettings(), Funcs{}, nil))
	require.NoError(t, c.Start())
	waitLoop(t, c)

	assert.Equal(t, uint64(4), c.Invocations())
	fault := c.Fault()
	require.Error(t, fault)
	assert.True(t, rterrors.IsRuntimeFault(fault))
	assert.ErrorIs(t, fault, driver.ErrIOFault)
	assert.True(t, c.StopFlag().IsSet())

	require.NoError(t, c.CleanupAll())
	assert.Equal(t, Cleaned, c.State())
}

func TestEndOfStreamStopsCleanly(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun, MaxPeriods: 8})

	require.NoError(t, c.Initialize(config.DefaultSettings(), Funcs{}, nil))
	require.NoError(t, c.Start())
	waitLoop(t, c)

	assert.Equal(t, uint64(8), c.Invocations())
	assert.NoError(t, c.Fault())
	require.NoError(t, c.CleanupAll())
}

func TestRenderPanicIsFault(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	prog := Funcs{RenderFunc: func(*exchange.RenderContext, any) { panic("render bug") }}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.Start())
	waitLoop(t, c)

	assert.ErrorIs(t, c.Fault(), ErrRenderPanic)
	assert.False(t, c.InRender())
	require.NoError(t, c.CleanupAll())
}

func TestCleanupWhileRunningRequiresStop(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.Manual})
	require.NoError(t, c.Initialize(config.DefaultSettings(), Funcs{}, nil))
	require.NoError(t, c.Start())

	err := c.CleanupAll()
	assert.ErrorIs(t, err, ErrLoopRunning)

	c.Stop()
	require.NoError(t, c.CleanupAll())
	assert.Equal(t, Cleaned, c.State())
}

func TestCleanupWithoutStart(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	var cleaned atomic.Bool
	prog := Funcs{CleanupFunc: func(*exchange.RenderContext, any) { cleaned.Store(true) }}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.CleanupAll())
	assert.True(t, cleaned.Load())
	assert.Equal(t, Cleaned, c.State())
	assert.Zero(t, c.Invocations())
}

func TestCleanupCallbackAndTasksMayReadController(t *testing.T) {
	c, drv := newController(t, sim.Options{Mode: sim.Manual})

	var reader auxtask.Handle
	var cleanupElapsed, taskElapsed atomic.Uint64
	var taskDone atomic.Bool
	prog := Funcs{
		SetupFunc: func(*exchange.RenderContext, any) bool {
			assert.Equal(t, config.DefaultPeriodSize, c.Settings().PeriodSize)
			assert.Zero(t, c.Elapsed())
			var err error
			reader, err = c.Registry().Create(func(tc *auxtask.TaskContext) {
				<-tc.Done()
				taskElapsed.Store(c.Elapsed())
				_ = c.Stats()
				_ = c.Settings()
				taskDone.Store(true)
			}, 30, "reader")
			if err != nil {
				return false
			}
			return c.Registry().Schedule(reader) == nil
		},
		CleanupFunc: func(*exchange.RenderContext, any) {
			cleanupElapsed.Store(c.Elapsed())
			_ = c.Geometry()
			_ = c.Fault()
			_ = c.Stats()
		},
	}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		st, err := c.Registry().Stats(reader)
		return err == nil && st.Running
	}, waitFor, tick)

	drv.Step(4)
	require.Eventually(t, func() bool { return c.Invocations() == 4 }, waitFor, tick)
	c.Stop()

	finished := make(chan error, 1)
	go func() { finished <- c.CleanupAll() }()
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatalf("CleanupAll did not return (state %s)", c.State())
	}

	want := 4 * uint64(config.DefaultPeriodSize)
	assert.Equal(t, want, cleanupElapsed.Load())
	assert.Equal(t, want, taskElapsed.Load())
	assert.True(t, taskDone.Load())
	assert.Equal(t, Cleaned, c.State())
}

func TestConcurrentCleanupRunsCallbackOnce(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	var cleanups atomic.Int32
	prog := Funcs{CleanupFunc: func(*exchange.RenderContext, any) {
		cleanups.Add(1)
		time.Sleep(5 * time.Millisecond)
	}}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.CleanupAll())
			assert.Equal(t, Cleaned, c.State())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestElapsedReadWhileRendering(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	require.NoError(t, c.Initialize(config.DefaultSettings(), Funcs{}, nil))
	require.NoError(t, c.Start())

	period := uint64(config.DefaultPeriodSize)
	var last uint64
	for c.Invocations() < 50 {
		now := c.Elapsed()
		assert.GreaterOrEqual(t, now, last)
		assert.Zero(t, now%period)
		last = now
		_ = c.Stats()
	}

	c.Stop()
	waitLoop(t, c)
	assert.Equal(t, c.Invocations()*period, c.Elapsed())
	require.NoError(t, c.CleanupAll())
}

func TestInitializeLogsHardware(t *testing.T) {
	var buf safeBuffer
	prevLogger := *logging.GetDefaultLogger()
	prevLevel := zerolog.GlobalLevel()
	logging.SetOutput(zerolog.New(&buf))
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer func() {
		logging.SetOutput(prevLogger)
		zerolog.SetGlobalLevel(prevLevel)
	}()

	c, _ := newController(t, sim.Options{Mode: sim.FreeRun})
	s := config.DefaultSettings()
	s.PRUFilename = "render.bin"
	require.NoError(t, c.Initialize(s, Funcs{}, nil))
	require.NoError(t, c.CleanupAll())

	out := buf.String()
	assert.Contains(t, out, `"component":"hardware"`)
	assert.Contains(t, out, `"pru_filename":"render.bin"`)
	assert.Contains(t, out, `"codec_i2c_address":"0x18"`)
	assert.Contains(t, out, `"operation":"setup"`)
}

// safeBuffer is a bytes.Buffer shared by the test and background loggers
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAutoScheduledTaskRunsEveryPeriod(t *testing.T) {
	c, drv := newController(t, sim.Options{Mode: sim.Manual})
	var runs atomic.Uint64
	var h auxtask.Handle

	prog := Funcs{SetupFunc: func(*exchange.RenderContext, any) bool {
		var err error
		h, err = c.Registry().Create(func(tc *auxtask.TaskContext) { runs.Add(1) }, 20, "auto", auxtask.WithAutoSchedule())
		return err == nil
	}}
	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.Start())

	_, err := c.Registry().Create(func(*auxtask.TaskContext) {}, 10, "late")
	assert.ErrorIs(t, err, auxtask.ErrRegistrySealed)

	drv.Step(3)
	require.Eventually(t, func() bool {
		st, err := c.Registry().Stats(h)
		return err == nil && st.Schedules == 3
	}, waitFor, tick)
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, waitFor, tick)
	assert.Equal(t, uint64(3), c.Invocations())
	assert.LessOrEqual(t, runs.Load(), uint64(3))

	c.Stop()
	require.NoError(t, c.CleanupAll())
}

func TestOverrunsCounted(t *testing.T) {
	c, _ := newController(t, sim.Options{Mode: sim.FreeRun, MaxPeriods: 3})
	prog := Funcs{RenderFunc: func(*exchange.RenderContext, any) { time.Sleep(2 * time.Millisecond) }}

	require.NoError(t, c.Initialize(config.DefaultSettings(), prog, nil))
	require.NoError(t, c.Start())
	waitLoop(t, c)

	assert.Equal(t, uint64(3), c.Overruns())
	st := c.Stats()
	assert.Equal(t, uint64(3), st.Invocations)
	assert.GreaterOrEqual(t, st.MaxRender, 2*time.Millisecond)
	assert.Equal(t, int64(3), st.RenderSample)
	require.NoError(t, c.CleanupAll())
}

func TestLevelsAppliedAtInitialize(t *testing.T) {
	drv := sim.New(sim.Options{Mode: sim.FreeRun})
	lv := levels.NewController(drv.Codec(), nil)
	c := New(Options{Driver: drv, Levels: lv})

	s := config.DefaultSettings()
	s.DACLevel = -3.5
	require.NoError(t, c.Initialize(s, Funcs{}, nil))
	assert.Equal(t, -3.5, lv.State().DACLevel)
	require.NoError(t, c.CleanupAll())
}

func TestLatencyTracker(t *testing.T) {
	lt := NewLatencyTracker()
	_, _, _, _, n := lt.GetLatencyStats()
	assert.Zero(t, n)

	lt.RecordLatency(4 * time.Millisecond)
	lt.RecordLatency(2 * time.Millisecond)
	cur, minL, maxL, avg, n := lt.GetLatencyStats()
	assert.Equal(t, 2*time.Millisecond, cur)
	assert.Equal(t, 2*time.Millisecond, minL)
	assert.Equal(t, 4*time.Millisecond, maxL)
	assert.Equal(t, (4*7+2)*time.Millisecond/8, avg)
	assert.Equal(t, int64(2), n)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "unknown", State(42).String())
}
