package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/misterbo94/Bela/internal/errors"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, DefaultPeriodSize, s.PeriodSize)
	assert.Equal(t, RenderPriority, s.RenderPriority)
	assert.Equal(t, DigitalChannelCount, s.DigitalChannels())
	assert.Equal(t, [2]float64{DefaultPGAGain, DefaultPGAGain}, s.PGAGain)
}

func TestAnalogRateRatio(t *testing.T) {
	tests := []struct {
		channels int
		num, den int
		wantErr  bool
	}{
		{8, 1, 4, false},
		{4, 1, 2, false},
		{2, 1, 1, false},
		{6, 0, 0, true},
		{0, 0, 0, true},
	}

	for _, tt := range tests {
		num, den, err := AnalogRateRatio(tt.channels)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidAnalogChannels)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.num, num)
		assert.Equal(t, tt.den, den)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		target error
	}{
		{"zero period", func(s *Settings) { s.PeriodSize = 0 }, ErrInvalidPeriodSize},
		{"negative period", func(s *Settings) { s.PeriodSize = -16 }, ErrInvalidPeriodSize},
		{"zero sample rate", func(s *Settings) { s.AudioSampleRate = 0 }, ErrInvalidSampleRate},
		{"audio asymmetry", func(s *Settings) { s.NumAudioOutChannels = 1 }, ErrChannelAsymmetry},
		{"analog asymmetry", func(s *Settings) { s.NumAnalogOutChannels = 4 }, ErrChannelAsymmetry},
		{"analog count", func(s *Settings) { s.NumAnalogInChannels, s.NumAnalogOutChannels = 6, 6 }, ErrInvalidAnalogChannels},
		{"period not divisible", func(s *Settings) { s.PeriodSize = 18 }, ErrPeriodNotDivisible},
		{"digital count", func(s *Settings) { s.NumDigitalChannels = 8 }, ErrInvalidDigital},
		{"render priority", func(s *Settings) { s.RenderPriority = 100 }, ErrInvalidPriority},
		{"dac level", func(s *Settings) { s.DACLevel = 1 }, ErrInvalidLevel},
		{"adc level", func(s *Settings) { s.ADCLevel = -13 }, ErrInvalidLevel},
		{"pga gain", func(s *Settings) { s.PGAGain[1] = 60 }, ErrInvalidLevel},
		{"headphone level", func(s *Settings) { s.HeadphoneLevel = -64 }, ErrInvalidLevel},
		{"driver", func(s *Settings) { s.Driver = "pru" }, ErrInvalidDriver},
		{"port", func(s *Settings) { s.ReceivePort = 70000 }, ErrInvalidPort},
		{"mux channels", func(s *Settings) { s.NumMuxChannels = 3 }, ErrInvalidHardware},
		{"pru number", func(s *Settings) { s.PRUNumber = 2 }, ErrInvalidHardware},
		{"codec address", func(s *Settings) { s.CodecI2CAddress = 0x80 }, ErrInvalidHardware},
		{"amp mute pin", func(s *Settings) { s.AmpMutePin = -2 }, ErrInvalidHardware},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, rterrors.IsConfiguration(err))
		})
	}
}

func TestValidateAcceptsHardwareVariants(t *testing.T) {
	s := DefaultSettings()
	s.NumMuxChannels = 8
	s.PRUNumber = 0
	s.PRUFilename = "custom_pru.bin"
	s.AmpMutePin = -1
	require.NoError(t, s.Validate())
}

func TestValidateAllowsAsymmetryWhenNotRequired(t *testing.T) {
	s := DefaultSettings()
	s.RequireSymmetry = false
	s.NumAudioOutChannels = 1
	s.NumAnalogInChannels = 4
	s.NumAnalogOutChannels = 2

	require.NoError(t, s.Validate())
	assert.Equal(t, 4, s.AnalogConverterChannels())
}

func TestDisabledDomainsSkipChecks(t *testing.T) {
	s := DefaultSettings()
	s.UseAnalog = false
	s.UseDigital = false
	s.NumAnalogInChannels = 3
	s.NumDigitalChannels = 0
	s.PeriodSize = 7

	require.NoError(t, s.Validate())
	assert.Zero(t, s.AnalogInChannels())
	assert.Zero(t, s.AnalogOutChannels())
	assert.Zero(t, s.DigitalChannels())
}

func TestLoadFromFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bela.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
period_size: 32
interleave: false
analog_in_channels: 4
analog_out_channels: 4
driver: sim
`), 0o600))

	t.Setenv("BELA_DAC_LEVEL", "-3.5")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--period-size=64", "-vv"}))

	s, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, 64, s.PeriodSize, "changed flag overrides file")
	assert.False(t, s.Interleave)
	assert.Equal(t, 4, s.NumAnalogInChannels)
	assert.Equal(t, -3.5, s.DACLevel)
	assert.Equal(t, 2, s.Verbose)
	assert.Equal(t, [2]float64{DefaultPGAGain, DefaultPGAGain}, s.PGAGain)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bela.yaml")
	require.NoError(t, os.WriteFile(path, []byte("period_size: 0\n"), 0o600))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPeriodSize)
}

func TestTunablesUpdate(t *testing.T) {
	orig := GetConfig()
	defer UpdateConfig(orig)

	custom := DefaultTunables()
	custom.OverrunLogEvery = 5
	UpdateConfig(custom)

	assert.Equal(t, int64(5), GetConfig().OverrunLogEvery)
}
