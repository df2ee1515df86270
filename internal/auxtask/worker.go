package auxtask

// worker is the execution context of one task. It pins itself to an OS thread
// at the task priority, parks on the wake channel and runs the body once per
// wake until the stop signal is raised. When the kernel accepted the priority,
// preemption is left to the kernel and the task bypasses the cpu arbiter.
func (r *Registry) worker(t *task) {
	defer r.wg.Done()

	release, realtime, err := r.opts.Scheduler.Pin(t.name, t.priority)
	if err != nil {
		t.logger.Debug().Err(err).Msg("running without real-time priority")
	}
	defer release()
	t.arbitrated = !realtime

	close(t.parked)
	t.logger.Trace().Msg("execution context parked")

	for {
		select {
		case <-r.stop.Done():
			return
		case <-t.wake:
		}
		if r.stop.IsSet() {
			return
		}
		t.pending.Store(false)
		t.invoke(r)
	}
}
