// Package sim is a software driver that clocks periods itself. It backs tests
// and hardware-less runs: periods can follow the wall clock, be stepped by hand
// or run as fast as the render loop allows.
package sim

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/logging"
)

// Mode selects how periods are paced
type Mode int

const (
	// Realtime delivers one period per period duration of wall-clock time
	Realtime Mode = iota
	// Manual delivers one period per call to Step
	Manual
	// FreeRun delivers periods back to back
	FreeRun
)

// rawPoolDepth covers the set in flight plus one being committed
const rawPoolDepth = 2

// InputFunc fills the inputs of the raw set for the given zero-based period
type InputFunc func(period uint64, raw *exchange.RawBuffers)

// Options configures the simulator
type Options struct {
	Mode  Mode
	Input InputFunc
	// MaxPeriods ends the stream after this many periods, 0 for unlimited
	MaxPeriods uint64
	// FaultAt injects an I/O fault instead of delivering this one-based period, 0 to disable
	FaultAt uint64
	// History keeps copies of the last committed periods
	History int
}

// Driver is the simulated hardware
type Driver struct {
	opts   Options
	geom   exchange.Geometry
	pool   *exchange.RawPool
	codec  *levels.SoftCodec
	ticker *time.Ticker
	steps  chan struct{}
	logger *logging.ComponentLogger

	open      atomic.Bool
	delivered atomic.Uint64
	committed atomic.Uint64

	histMu  sync.Mutex
	history []*exchange.RawBuffers
}

// New creates a simulator
func New(opts Options) *Driver {
	return &Driver{
		opts:   opts,
		codec:  levels.NewSoftCodec(),
		steps:  make(chan struct{}, 1024),
		logger: logging.NewComponentLogger(*logging.GetDefaultLogger(), "sim-driver"),
	}
}

func (d *Driver) Name() string { return "sim" }

// Codec returns the software codec applied to audio I/O
func (d *Driver) Codec() levels.Codec { return d.codec }

func (d *Driver) Open(g exchange.Geometry) error {
	d.geom = g
	d.pool = exchange.NewRawPool(g, rawPoolDepth)
	d.open.Store(true)
	d.logger.GetLogger().Debug().Int("period", g.AudioFrames).Int("mode", int(d.opts.Mode)).Msg("simulator opened")
	return nil
}

func (d *Driver) Start() error {
	if !d.open.Load() {
		return driver.ErrNotOpen
	}
	if d.opts.Mode == Realtime {
		period := time.Duration(d.geom.PeriodSeconds() * float64(time.Second))
		if period <= 0 {
			period = time.Millisecond
		}
		d.ticker = time.NewTicker(period)
	}
	return nil
}

func (d *Driver) Next(ctx context.Context) (*exchange.RawBuffers, error) {
	if !d.open.Load() {
		return nil, driver.ErrNotOpen
	}
	n := d.delivered.Load() + 1
	if d.opts.MaxPeriods > 0 && n > d.opts.MaxPeriods {
		return nil, driver.ErrEndOfStream
	}
	if d.opts.FaultAt > 0 && n == d.opts.FaultAt {
		return nil, fmt.Errorf("%w: injected at period %d", driver.ErrIOFault, n)
	}

	switch d.opts.Mode {
	case Realtime:
		select {
		case <-d.ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case Manual:
		select {
		case <-d.steps:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	raw := d.pool.Get()
	clear(raw.AudioIn)
	clear(raw.AnalogIn)
	clear(raw.AudioOut)
	clear(raw.AnalogOut)
	clear(raw.Digital)
	if d.opts.Input != nil {
		d.opts.Input(n-1, raw)
	}
	driver.ApplyInputGain(d.codec, raw.AudioIn, d.geom.AudioInChannels)
	d.delivered.Store(n)
	return raw, nil
}

func (d *Driver) Commit(raw *exchange.RawBuffers) error {
	if !d.open.Load() {
		return driver.ErrNotOpen
	}
	driver.ApplyOutputGain(d.codec, raw.AudioOut)

	if d.opts.History > 0 {
		cp := exchange.NewRawBuffers(d.geom)
		copy(cp.AudioIn, raw.AudioIn)
		copy(cp.AudioOut, raw.AudioOut)
		copy(cp.AnalogIn, raw.AnalogIn)
		copy(cp.AnalogOut, raw.AnalogOut)
		copy(cp.Digital, raw.Digital)

		d.histMu.Lock()
		d.history = append(d.history, cp)
		if len(d.history) > d.opts.History {
			d.history = d.history[len(d.history)-d.opts.History:]
		}
		d.histMu.Unlock()
	}

	d.committed.Add(1)
	d.pool.Put(raw)
	return nil
}

func (d *Driver) Close() error {
	if !d.open.CompareAndSwap(true, false) {
		return nil
	}
	if d.ticker != nil {
		d.ticker.Stop()
	}
	d.logger.GetLogger().Debug().Uint64("periods", d.committed.Load()).Msg("simulator closed")
	return nil
}

// Step releases n periods in Manual mode
func (d *Driver) Step(n int) {
	for i := 0; i < n; i++ {
		d.steps <- struct{}{}
	}
}

// Delivered returns the number of periods handed to the render loop
func (d *Driver) Delivered() uint64 { return d.delivered.Load() }

// Committed returns the number of periods written back
func (d *Driver) Committed() uint64 { return d.committed.Load() }

// History returns copies of the most recent committed periods, oldest first
func (d *Driver) History() []*exchange.RawBuffers {
	d.histMu.Lock()
	defer d.histMu.Unlock()
	return append([]*exchange.RawBuffers(nil), d.history...)
}

// PoolStats returns the raw buffer pool counters
func (d *Driver) PoolStats() exchange.RawPoolStats {
	if d.pool == nil {
		return exchange.RawPoolStats{}
	}
	return d.pool.Stats()
}
