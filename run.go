package bela

import (
	"context"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Run executes prog from setup to cleanup. It returns when ctx is done, the
// stop signal is raised or the driver ends the stream, and reports the error
// that ended the run, if any.
func Run(ctx context.Context, s Settings, prog Program, userData any, opts ...Option) error {
	core, err := New(s, opts...)
	if err != nil {
		return err
	}
	if err := core.Init(prog, userData); err != nil {
		_ = core.Cleanup()
		return err
	}
	if err := core.Start(); err != nil {
		_ = core.Cleanup()
		return err
	}

	select {
	case <-ctx.Done():
		core.Stop()
	case <-core.Done():
	}
	if err := core.Wait(context.Background()); err != nil {
		return err
	}
	if err := core.Cleanup(); err != nil {
		return err
	}
	return core.Fault()
}
