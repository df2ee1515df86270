package config

import "time"

// Hardware constants carried over from the board support layer
const (
	// RenderPriority is the real-time priority of the render thread. Auxiliary
	// tasks must run strictly below it.
	RenderPriority = 95

	// MaxPriority is the highest real-time priority accepted by the kernel
	MaxPriority = 99

	DefaultDACLevel       = 0.0
	DefaultADCLevel       = -6.0
	DefaultPGAGain        = 16.0
	DefaultHeadphoneLevel = -6.0

	DefaultCodecI2CAddress = 0x18
	DefaultAmpMutePin      = 61

	DefaultPeriodSize      = 16
	DefaultAudioSampleRate = 44100.0
	DigitalChannelCount    = 16

	DefaultReceivePort  = 9998
	DefaultTransmitPort = 9999
	DefaultServerName   = "127.0.0.1"
)

// Tunables centralizes internal constants of the render core that are not part of
// the user-facing settings. Each field can be tuned at runtime through UpdateConfig.
type Tunables struct {
	// TeardownWarnInterval sets how often teardown logs the auxiliary tasks it is still waiting for.
	// Used in: auxtask/registry.go
	// Impact: Purely diagnostic. Teardown never times out.
	TeardownWarnInterval time.Duration

	// OverrunLogEvery rate-limits render overrun warnings: the first overrun is always
	// logged, then one in every OverrunLogEvery.
	// Used in: lifecycle/loop.go
	OverrunLogEvery int64

	// MetricsUpdateInterval sets how often monitors sample and broadcast state.
	// Used in: monitor/updater.go, sysmon/sysmon.go
	MetricsUpdateInterval time.Duration

	// DefaultMaxAuxTasks caps the number of registered auxiliary tasks when settings leave it at 0.
	// Used in: auxtask/registry.go
	DefaultMaxAuxTasks int

	// SchedNormal and SchedFIFO are the Linux scheduling policy numbers.
	// Used in: rtprio/priority_linux.go
	SchedNormal int
	SchedFIFO   int

	// MinNiceValue and MaxNiceValue bound the nice fallback applied when real-time
	// scheduling is refused by the kernel.
	// Used in: rtprio/priority_linux.go
	MinNiceValue int
	MaxNiceValue int

	// EventTimeFormatString is the timestamp layout used in monitor events.
	// Used in: monitor/events.go
	EventTimeFormatString string

	// EventWriteTimeout bounds a single websocket event write to a subscriber.
	// Used in: monitor/events.go
	EventWriteTimeout time.Duration

	// EventQueueSize bounds the queue of lifecycle and task events waiting to
	// be written. Events beyond it are dropped.
	// Used in: monitor/events.go
	EventQueueSize int

	// SoundcardRingPeriods sizes the device bridge ring buffers in periods.
	// Used in: driver/soundcard/soundcard.go
	// Impact: Higher values absorb device jitter but add latency.
	SoundcardRingPeriods int
}

// DefaultTunables returns the default internal constants
func DefaultTunables() *Tunables {
	return &Tunables{
		TeardownWarnInterval:  2 * time.Second,
		OverrunLogEvery:       100,
		MetricsUpdateInterval: 1 * time.Second,
		DefaultMaxAuxTasks:    64,
		SchedNormal:           0,
		SchedFIFO:             1,
		MinNiceValue:          -20,
		MaxNiceValue:          19,
		EventTimeFormatString: "2006-01-02T15:04:05.000Z07:00",
		EventWriteTimeout:     2 * time.Second,
		EventQueueSize:        64,
		SoundcardRingPeriods:  4,
	}
}

// Global configuration instance
var tunablesInstance = DefaultTunables()

// UpdateConfig allows runtime configuration updates
func UpdateConfig(newConfig *Tunables) {
	tunablesInstance = newConfig
}

// GetConfig returns the current internal constants
func GetConfig() *Tunables {
	return tunablesInstance
}
