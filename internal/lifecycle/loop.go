package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/driver"
	rterrors "github.com/misterbo94/Bela/internal/errors"
	"github.com/misterbo94/Bela/internal/exchange"
)

// loop is the render thread. It runs pinned to one OS thread at the render
// priority and checks the stop signal immediately before every render, so no
// render starts once stop has been observed.
func (c *Controller) loop(ready chan<- struct{}) {
	renderPriority := c.sess.Load().settings.RenderPriority
	if renderPriority <= 0 {
		renderPriority = config.RenderPriority
	}
	release, _, err := c.opts.Scheduler.Pin("render", renderPriority)
	if err != nil {
		c.logger.GetLogger().Debug().Err(err).Msg("render thread running without real-time priority")
	}

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		select {
		case <-c.opts.Stop.Done():
		case <-exited:
		}
		cancel()
	}()

	close(ready)
	reason := c.run(ctx)

	close(exited)
	release()

	c.mu.Lock()
	c.transition(Stopping, reason)
	close(c.loopDone)
	c.mu.Unlock()
}

// run executes periods until stop or a driver error and returns the exit reason
func (c *Controller) run(ctx context.Context) string {
	drv := c.opts.Driver
	stop := c.opts.Stop
	sess := c.sess.Load()
	registry := c.opts.Registry
	logEvery := config.GetConfig().OverrunLogEvery

	for {
		if stop.IsSet() {
			return "stop requested"
		}

		raw, err := drv.Next(ctx)
		if err != nil {
			if stop.IsSet() {
				return "stop requested"
			}
			if errors.Is(err, driver.ErrEndOfStream) {
				stop.Set()
				return "end of stream"
			}
			if !errors.Is(err, driver.ErrIOFault) {
				err = fmt.Errorf("%w: %v", driver.ErrIOFault, err)
			}
			return c.raiseFault(err)
		}

		if stop.IsSet() {
			// Hand the period back untouched
			_ = drv.Commit(raw)
			return "stop requested"
		}

		rctx, err := sess.xch.Begin(raw)
		if err != nil {
			_ = drv.Commit(raw)
			return c.raiseFault(err)
		}

		elapsed, err := c.render(rctx)
		sess.xch.End(raw)
		if err != nil {
			_ = drv.Commit(raw)
			return c.raiseFault(err)
		}
		if err := drv.Commit(raw); err != nil {
			return c.raiseFault(err)
		}

		n := c.invocations.Add(1)
		c.latency.RecordLatency(elapsed)
		if sess.period > 0 && elapsed > sess.period {
			overruns := c.overruns.Add(1)
			if overruns == 1 || (logEvery > 0 && overruns%uint64(logEvery) == 0) {
				c.logger.LogThresholdWarning("render_duration", elapsed, sess.period, "render overran the period")
				c.logger.GetLogger().Debug().Uint64("invocation", n).Uint64("overruns", overruns).Msg("render overrun")
			}
		}

		registry.AutoScheduleAll()
	}
}

// render invokes the render callback and measures it
func (c *Controller) render(rctx *exchange.RenderContext) (elapsed time.Duration, err error) {
	c.renderMu.Lock()
	c.inRender.Store(true)
	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		c.inRender.Store(false)
		c.renderMu.Unlock()
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRenderPanic, r)
		}
	}()
	c.prog.Render(rctx, c.userData)
	return 0, nil
}

// raiseFault records a runtime fault, raises stop and returns the exit reason
func (c *Controller) raiseFault(err error) string {
	fault := rterrors.RuntimeFault("render loop", err)
	c.logger.GetLogger().Error().Err(fault).Str("category", string(rterrors.CategoryRuntimeFault)).Msg("render loop fault")

	c.fault.Store(&faultBox{err: fault})

	c.opts.Stop.Set()
	return "runtime fault: " + err.Error()
}
