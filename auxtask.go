package bela

// CreateAuxiliaryTask registers fn to run on its own thread at priority,
// which must be below the render priority. Tasks can only be created before
// Start. The task does not run until it is scheduled.
func (c *Core) CreateAuxiliaryTask(fn AuxTaskFunc, priority int, name string, opts ...AuxTaskOption) (AuxTaskHandle, error) {
	return c.tasks.Create(fn, priority, name, opts...)
}

// StartAuxiliaryTask brings up the task's execution context without running it
func (c *Core) StartAuxiliaryTask(h AuxTaskHandle) error {
	return c.tasks.Start(h)
}

// ScheduleAuxiliaryTask wakes the task without blocking. Wakes requested
// while one is pending coalesce. It is safe to call from render.
func (c *Core) ScheduleAuxiliaryTask(h AuxTaskHandle) error {
	return c.tasks.Schedule(h)
}

// AuxiliaryTask looks up a task handle by name
func (c *Core) AuxiliaryTask(name string) (AuxTaskHandle, bool) {
	return c.tasks.Lookup(name)
}

// AuxiliaryTaskStats returns the counters of one task
func (c *Core) AuxiliaryTaskStats(h AuxTaskHandle) (AuxTaskStats, error) {
	return c.tasks.Stats(h)
}
