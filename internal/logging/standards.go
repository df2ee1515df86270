package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// ComponentLogger provides the standard log lines shared by the render core components
type ComponentLogger struct {
	logger    zerolog.Logger
	component string
}

// NewComponentLogger creates a standardized logger for a component
func NewComponentLogger(logger zerolog.Logger, component string) *ComponentLogger {
	return &ComponentLogger{
		logger:    logger.With().Str("component", component).Logger(),
		component: component,
	}
}

// Component Lifecycle Logging

// LogComponentStarting logs component initialization start
func (cl *ComponentLogger) LogComponentStarting() {
	cl.logger.Debug().Msg("starting component")
}

// LogComponentStarted logs successful component start
func (cl *ComponentLogger) LogComponentStarted() {
	cl.logger.Debug().Msg("component started successfully")
}

// LogComponentStopping logs component shutdown start
func (cl *ComponentLogger) LogComponentStopping() {
	cl.logger.Debug().Msg("stopping component")
}

// LogComponentStopped logs successful component stop
func (cl *ComponentLogger) LogComponentStopped() {
	cl.logger.Debug().Msg("component stopped")
}

// LogError logs an error with a message
func (cl *ComponentLogger) LogError(err error, msg string) {
	cl.logger.Error().Err(err).Msg(msg)
}

// LogValidationError logs validation failures with specific context
func (cl *ComponentLogger) LogValidationError(err error, validationType string, value interface{}) {
	cl.logger.Error().Err(err).
		Str("validation_type", validationType).
		Interface("invalid_value", value).
		Msg("validation failed")
}

// LogWarningWithError logs a warning with error context
func (cl *ComponentLogger) LogWarningWithError(err error, msg string) {
	cl.logger.Warn().Err(err).Msg(msg)
}

// LogThresholdWarning logs warnings when thresholds are exceeded
func (cl *ComponentLogger) LogThresholdWarning(metric string, current, threshold interface{}, msg string) {
	cl.logger.Warn().
		Str("metric", metric).
		Interface("current_value", current).
		Interface("threshold", threshold).
		Msg(msg)
}

// LogStateTransition logs component state changes
func (cl *ComponentLogger) LogStateTransition(fromState, toState string, reason string) {
	cl.logger.Info().
		Str("from_state", fromState).
		Str("to_state", toState).
		Str("reason", reason).
		Msg("state transition")
}

// LogPriorityChange logs thread priority changes
func (cl *ComponentLogger) LogPriorityChange(tid, newPriority int, policy string) {
	cl.logger.Debug().
		Int("tid", tid).
		Int("new_priority", newPriority).
		Str("policy", policy).
		Msg("thread priority changed")
}

// LogOperationTrace logs operation tracing for debugging
func (cl *ComponentLogger) LogOperationTrace(operation string, duration time.Duration, success bool) {
	cl.logger.Debug().
		Str("operation", operation).
		Dur("duration", duration).
		Bool("success", success).
		Msg("operation trace")
}

// GetLogger returns the underlying zerolog.Logger for advanced usage
func (cl *ComponentLogger) GetLogger() *zerolog.Logger {
	return &cl.logger
}

// WithSubComponent creates a logger for a sub-component
func (cl *ComponentLogger) WithSubComponent(subComponent string) *ComponentLogger {
	return &ComponentLogger{
		logger:    cl.logger.With().Str("sub_component", subComponent).Logger(),
		component: cl.component + "." + subComponent,
	}
}
