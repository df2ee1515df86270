package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding settings, e.g. BELA_PERIOD_SIZE
const EnvPrefix = "BELA"

// flagBinding ties a command-line flag to its settings key
type flagBinding struct {
	key   string
	flag  string
	usage string
}

var flagBindings = []flagBinding{
	{"period_size", "period-size", "audio frames per render period"},
	{"audio_sample_rate", "audio-sample-rate", "audio sample rate in Hz"},
	{"use_analog", "use-analog", "enable analog inputs and outputs"},
	{"use_digital", "use-digital", "enable the digital GPIO channels"},
	{"audio_in_channels", "audio-in-channels", "number of audio input channels"},
	{"audio_out_channels", "audio-out-channels", "number of audio output channels"},
	{"analog_in_channels", "analog-in-channels", "number of analog input channels (2, 4 or 8)"},
	{"analog_out_channels", "analog-out-channels", "number of analog output channels (2, 4 or 8)"},
	{"begin_muted", "mute-speaker", "begin with the speakers muted"},
	{"dac_level", "dac-level", "DAC output level in dB"},
	{"adc_level", "adc-level", "ADC input level in dB"},
	{"headphone_level", "hp-level", "headphone output level in dB"},
	{"interleave", "interleave", "use frame-major (interleaved) buffers"},
	{"analog_outputs_persist", "analog-outputs-persist", "keep analog output values across periods"},
	{"driver", "driver", "buffer driver: sim, soundcard or wavfile"},
	{"wav_input", "wav-input", "input WAV file for the wavfile driver"},
	{"wav_output", "wav-output", "output WAV file for the wavfile driver"},
	{"device_name", "device", "soundcard device name (empty selects the default)"},
	{"verbose", "verbose", "verbosity level"},
	{"realtime_threads", "realtime", "run render and auxiliary threads with SCHED_FIFO priorities"},
	{"receive_port", "receive-port", "auxiliary UDP receive port"},
	{"transmit_port", "transmit-port", "auxiliary UDP transmit port"},
	{"server_name", "server-name", "auxiliary UDP server name"},
	{"monitor_addr", "monitor-addr", "diagnostics server listen address (empty disables)"},
}

// RegisterFlags defines the settings flags on fs with defaults taken from DefaultSettings
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultSettings()
	fs.Int("period-size", d.PeriodSize, lookupUsage("period-size"))
	fs.Float64("audio-sample-rate", d.AudioSampleRate, lookupUsage("audio-sample-rate"))
	fs.Bool("use-analog", d.UseAnalog, lookupUsage("use-analog"))
	fs.Bool("use-digital", d.UseDigital, lookupUsage("use-digital"))
	fs.Int("audio-in-channels", d.NumAudioInChannels, lookupUsage("audio-in-channels"))
	fs.Int("audio-out-channels", d.NumAudioOutChannels, lookupUsage("audio-out-channels"))
	fs.Int("analog-in-channels", d.NumAnalogInChannels, lookupUsage("analog-in-channels"))
	fs.Int("analog-out-channels", d.NumAnalogOutChannels, lookupUsage("analog-out-channels"))
	fs.Bool("mute-speaker", d.BeginMuted, lookupUsage("mute-speaker"))
	fs.Float64("dac-level", d.DACLevel, lookupUsage("dac-level"))
	fs.Float64("adc-level", d.ADCLevel, lookupUsage("adc-level"))
	fs.Float64("hp-level", d.HeadphoneLevel, lookupUsage("hp-level"))
	fs.Bool("interleave", d.Interleave, lookupUsage("interleave"))
	fs.Bool("analog-outputs-persist", d.AnalogOutputsPersist, lookupUsage("analog-outputs-persist"))
	fs.String("driver", string(d.Driver), lookupUsage("driver"))
	fs.String("wav-input", d.WavInput, lookupUsage("wav-input"))
	fs.String("wav-output", d.WavOutput, lookupUsage("wav-output"))
	fs.String("device", d.DeviceName, lookupUsage("device"))
	fs.CountP("verbose", "v", lookupUsage("verbose"))
	fs.Bool("realtime", d.RealtimeThreads, lookupUsage("realtime"))
	fs.Int("receive-port", d.ReceivePort, lookupUsage("receive-port"))
	fs.Int("transmit-port", d.TransmitPort, lookupUsage("transmit-port"))
	fs.String("server-name", d.ServerName, lookupUsage("server-name"))
	fs.String("monitor-addr", d.MonitorAddr, lookupUsage("monitor-addr"))
}

func lookupUsage(flag string) string {
	for _, b := range flagBindings {
		if b.flag == flag {
			return b.usage
		}
	}
	return ""
}

// Load builds settings from defaults, an optional YAML file, BELA_* environment
// variables and changed flags, in increasing order of precedence. A missing config
// file is not an error unless path names it explicitly.
func Load(path string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	setDefaults(v, DefaultSettings())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for _, b := range flagBindings {
			if f := flags.Lookup(b.flag); f != nil {
				if err := v.BindPFlag(b.key, f); err != nil {
					return Settings{}, fmt.Errorf("error binding flag %s: %w", b.flag, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bela")
		v.SetConfigType("yaml")
		for _, p := range defaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return Settings{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("error unmarshaling config into settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("period_size", d.PeriodSize)
	v.SetDefault("audio_sample_rate", d.AudioSampleRate)
	v.SetDefault("use_analog", d.UseAnalog)
	v.SetDefault("use_digital", d.UseDigital)
	v.SetDefault("audio_in_channels", d.NumAudioInChannels)
	v.SetDefault("audio_out_channels", d.NumAudioOutChannels)
	v.SetDefault("analog_in_channels", d.NumAnalogInChannels)
	v.SetDefault("analog_out_channels", d.NumAnalogOutChannels)
	v.SetDefault("digital_channels", d.NumDigitalChannels)
	v.SetDefault("require_symmetry", d.RequireSymmetry)
	v.SetDefault("begin_muted", d.BeginMuted)
	v.SetDefault("dac_level", d.DACLevel)
	v.SetDefault("adc_level", d.ADCLevel)
	v.SetDefault("pga_gain", []float64{d.PGAGain[0], d.PGAGain[1]})
	v.SetDefault("headphone_level", d.HeadphoneLevel)
	v.SetDefault("mux_channels", d.NumMuxChannels)
	v.SetDefault("interleave", d.Interleave)
	v.SetDefault("analog_outputs_persist", d.AnalogOutputsPersist)
	v.SetDefault("driver", string(d.Driver))
	v.SetDefault("pru_number", d.PRUNumber)
	v.SetDefault("pru_filename", d.PRUFilename)
	v.SetDefault("wav_input", d.WavInput)
	v.SetDefault("wav_output", d.WavOutput)
	v.SetDefault("device_name", d.DeviceName)
	v.SetDefault("codec_i2c_address", d.CodecI2CAddress)
	v.SetDefault("amp_mute_pin", d.AmpMutePin)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("realtime_threads", d.RealtimeThreads)
	v.SetDefault("render_priority", d.RenderPriority)
	v.SetDefault("max_aux_tasks", d.MaxAuxTasks)
	v.SetDefault("receive_port", d.ReceivePort)
	v.SetDefault("transmit_port", d.TransmitPort)
	v.SetDefault("server_name", d.ServerName)
	v.SetDefault("monitor_addr", d.MonitorAddr)
}

func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bela"))
	}
	return append(paths, "/etc/bela")
}
