// Package stopflag provides the process-scoped stop signal polled by the render
// loop and by every auxiliary task.
package stopflag

import (
	"sync"
	"sync/atomic"
)

// Flag transitions from false to true exactly once and never resets.
// Any goroutine may set it; all goroutines may poll it.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// New returns an unset flag
func New() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Set raises the flag. It reports whether this call performed the transition.
func (f *Flag) Set() bool {
	transitioned := false
	f.once.Do(func() {
		f.set.Store(true)
		close(f.done)
		transitioned = true
	})
	return transitioned
}

// IsSet reports whether the flag has been raised
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// Done returns a channel closed once the flag is raised
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
