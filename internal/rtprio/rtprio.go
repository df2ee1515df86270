// Package rtprio pins goroutines to OS threads and raises those threads to a
// real-time priority when the process is allowed to.
package rtprio

import (
	"runtime"

	"github.com/misterbo94/Bela/internal/logging"
)

// Scheduler applies thread priorities. A disabled scheduler still pins the
// calling goroutine to its thread but leaves the priority alone, which is what
// tests and unprivileged runs want.
type Scheduler struct {
	logger  *logging.ComponentLogger
	enabled bool
}

// New creates a scheduler. When enabled is false no priorities are changed.
func New(enabled bool) *Scheduler {
	return &Scheduler{
		logger:  logging.NewComponentLogger(*logging.GetDefaultLogger(), "priority-scheduler"),
		enabled: enabled,
	}
}

// Enabled reports whether the scheduler changes thread priorities
func (s *Scheduler) Enabled() bool { return s.enabled }

// Pin locks the calling goroutine to its OS thread and applies priority to that
// thread. realtime reports whether the kernel now schedules the thread by that
// priority; a nice fallback or a disabled scheduler leaves it false. The
// returned release func must be called from the same goroutine. When the
// priority could not be restored release leaves the thread locked so the
// runtime discards it once the goroutine exits.
func (s *Scheduler) Pin(name string, priority int) (release func(), realtime bool, err error) {
	runtime.LockOSThread()
	if !s.enabled {
		return runtime.UnlockOSThread, false, nil
	}

	realtime, err = setThreadPriority(s.logger, name, priority)
	if err != nil {
		s.logger.LogWarningWithError(err, "thread priority not applied")
		return runtime.UnlockOSThread, false, err
	}

	return func() {
		if err := resetThreadPriority(s.logger, name); err != nil {
			s.logger.LogWarningWithError(err, "thread priority not restored, leaving thread locked")
			return
		}
		runtime.UnlockOSThread()
	}, realtime, nil
}

// LockMemory locks current and future pages into RAM when enabled
func (s *Scheduler) LockMemory() error {
	if !s.enabled {
		return nil
	}
	return lockMemory()
}

// CanRealtime reports whether the process holds the capability needed for
// real-time scheduling
func (s *Scheduler) CanRealtime() bool {
	return canRealtime()
}
