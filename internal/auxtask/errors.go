package auxtask

import "errors"

var (
	ErrNilFunc          = errors.New("task function is nil")
	ErrEmptyName        = errors.New("task name is empty")
	ErrDuplicateName    = errors.New("task name already registered")
	ErrPriorityRange    = errors.New("task priority out of range")
	ErrPriorityTooHigh  = errors.New("task priority must be below the render priority")
	ErrTooManyTasks     = errors.New("task limit reached")
	ErrNoContexts       = errors.New("no execution context available")
	ErrInvalidHandle    = errors.New("invalid or stale task handle")
	ErrRegistrySealed   = errors.New("registry is sealed, tasks must be created before running")
	ErrRegistryTornDown = errors.New("registry has been torn down")
)
