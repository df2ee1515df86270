// Package config defines the settings consumed once before rendering begins,
// their defaults, validation and loading from file, environment and flags.
package config

// DriverKind selects the hardware or simulated backend that exchanges buffers with the core
type DriverKind string

const (
	DriverSim       DriverKind = "sim"
	DriverSoundcard DriverKind = "soundcard"
	DriverWavFile   DriverKind = "wavfile"
)

// Settings holds every recognized option. It is consumed once by Initialize and
// copied by value, so later changes to the caller's copy have no effect.
type Settings struct {
	// PeriodSize is the number of audio frames per render period
	PeriodSize int `mapstructure:"period_size" yaml:"period_size" json:"period_size"`
	// AudioSampleRate is the audio domain rate in Hz
	AudioSampleRate float64 `mapstructure:"audio_sample_rate" yaml:"audio_sample_rate" json:"audio_sample_rate"`

	UseAnalog            bool `mapstructure:"use_analog" yaml:"use_analog" json:"use_analog"`
	UseDigital           bool `mapstructure:"use_digital" yaml:"use_digital" json:"use_digital"`
	NumAudioInChannels   int  `mapstructure:"audio_in_channels" yaml:"audio_in_channels" json:"audio_in_channels"`
	NumAudioOutChannels  int  `mapstructure:"audio_out_channels" yaml:"audio_out_channels" json:"audio_out_channels"`
	NumAnalogInChannels  int  `mapstructure:"analog_in_channels" yaml:"analog_in_channels" json:"analog_in_channels"`
	NumAnalogOutChannels int  `mapstructure:"analog_out_channels" yaml:"analog_out_channels" json:"analog_out_channels"`
	NumDigitalChannels   int  `mapstructure:"digital_channels" yaml:"digital_channels" json:"digital_channels"`
	// RequireSymmetry rejects settings whose input and output channel counts differ in any domain
	RequireSymmetry bool `mapstructure:"require_symmetry" yaml:"require_symmetry" json:"require_symmetry"`

	BeginMuted     bool       `mapstructure:"begin_muted" yaml:"begin_muted" json:"begin_muted"`
	DACLevel       float64    `mapstructure:"dac_level" yaml:"dac_level" json:"dac_level"`
	ADCLevel       float64    `mapstructure:"adc_level" yaml:"adc_level" json:"adc_level"`
	PGAGain        [2]float64 `mapstructure:"pga_gain" yaml:"pga_gain" json:"pga_gain"`
	HeadphoneLevel float64    `mapstructure:"headphone_level" yaml:"headphone_level" json:"headphone_level"`
	NumMuxChannels int        `mapstructure:"mux_channels" yaml:"mux_channels" json:"mux_channels"`

	// Interleave selects frame-major buffers; planar (channel-major) otherwise
	Interleave bool `mapstructure:"interleave" yaml:"interleave" json:"interleave"`
	// AnalogOutputsPersist keeps analog output values across periods until overwritten.
	// Digital outputs always persist and audio outputs never do.
	AnalogOutputsPersist bool `mapstructure:"analog_outputs_persist" yaml:"analog_outputs_persist" json:"analog_outputs_persist"`

	// Driver selects the hardware target
	Driver      DriverKind `mapstructure:"driver" yaml:"driver" json:"driver"`
	PRUNumber   int        `mapstructure:"pru_number" yaml:"pru_number" json:"pru_number"`
	PRUFilename string     `mapstructure:"pru_filename" yaml:"pru_filename" json:"pru_filename"`
	WavInput    string     `mapstructure:"wav_input" yaml:"wav_input" json:"wav_input"`
	WavOutput   string     `mapstructure:"wav_output" yaml:"wav_output" json:"wav_output"`
	DeviceName  string     `mapstructure:"device_name" yaml:"device_name" json:"device_name"`

	CodecI2CAddress int `mapstructure:"codec_i2c_address" yaml:"codec_i2c_address" json:"codec_i2c_address"`
	AmpMutePin      int `mapstructure:"amp_mute_pin" yaml:"amp_mute_pin" json:"amp_mute_pin"`

	Verbose int `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// RealtimeThreads applies SCHED_FIFO priorities to the render and auxiliary threads
	RealtimeThreads bool `mapstructure:"realtime_threads" yaml:"realtime_threads" json:"realtime_threads"`
	// RenderPriority is the render thread priority; auxiliary tasks must stay below it
	RenderPriority int `mapstructure:"render_priority" yaml:"render_priority" json:"render_priority"`
	// MaxAuxTasks caps the number of auxiliary tasks that may be registered
	MaxAuxTasks int `mapstructure:"max_aux_tasks" yaml:"max_aux_tasks" json:"max_aux_tasks"`

	// Auxiliary network ports, consumed by external collaborators
	ReceivePort  int    `mapstructure:"receive_port" yaml:"receive_port" json:"receive_port"`
	TransmitPort int    `mapstructure:"transmit_port" yaml:"transmit_port" json:"transmit_port"`
	ServerName   string `mapstructure:"server_name" yaml:"server_name" json:"server_name"`
	// MonitorAddr is the listen address of the diagnostics server; empty disables it
	MonitorAddr string `mapstructure:"monitor_addr" yaml:"monitor_addr" json:"monitor_addr"`
}

// DefaultSettings returns the settings used when nothing is overridden
func DefaultSettings() Settings {
	return Settings{
		PeriodSize:           DefaultPeriodSize,
		AudioSampleRate:      DefaultAudioSampleRate,
		UseAnalog:            true,
		UseDigital:           true,
		NumAudioInChannels:   2,
		NumAudioOutChannels:  2,
		NumAnalogInChannels:  8,
		NumAnalogOutChannels: 8,
		NumDigitalChannels:   DigitalChannelCount,
		RequireSymmetry:      true,
		BeginMuted:           false,
		DACLevel:             DefaultDACLevel,
		ADCLevel:             DefaultADCLevel,
		PGAGain:              [2]float64{DefaultPGAGain, DefaultPGAGain},
		HeadphoneLevel:       DefaultHeadphoneLevel,
		Interleave:           true,
		AnalogOutputsPersist: true,
		Driver:               DriverSim,
		PRUNumber:            1,
		CodecI2CAddress:      DefaultCodecI2CAddress,
		AmpMutePin:           DefaultAmpMutePin,
		RenderPriority:       RenderPriority,
		MaxAuxTasks:          GetConfig().DefaultMaxAuxTasks,
		ReceivePort:          DefaultReceivePort,
		TransmitPort:         DefaultTransmitPort,
		ServerName:           DefaultServerName,
	}
}

// AnalogInChannels returns the effective analog input channel count (0 when analog is disabled)
func (s Settings) AnalogInChannels() int {
	if !s.UseAnalog {
		return 0
	}
	return s.NumAnalogInChannels
}

// AnalogOutChannels returns the effective analog output channel count (0 when analog is disabled)
func (s Settings) AnalogOutChannels() int {
	if !s.UseAnalog {
		return 0
	}
	return s.NumAnalogOutChannels
}

// DigitalChannels returns the effective digital channel count (0 when digital is disabled)
func (s Settings) DigitalChannels() int {
	if !s.UseDigital {
		return 0
	}
	return s.NumDigitalChannels
}
