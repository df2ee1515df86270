package levels

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterbo94/Bela/internal/config"
	rterrors "github.com/misterbo94/Bela/internal/errors"
)

func TestQuantization(t *testing.T) {
	c := NewController(nil, nil)

	tests := []struct {
		name string
		set  func(float64) (float64, error)
		in   float64
		want float64
	}{
		{"dac exact", c.SetDACLevel, -3.5, -3.5},
		{"dac rounds down", c.SetDACLevel, -3.3, -3.5},
		{"dac top", c.SetDACLevel, 0, 0},
		{"adc rounds down", c.SetADCLevel, -4, -4.5},
		{"adc bottom", c.SetADCLevel, -12, -12},
		{"pga rounds to nearest", func(v float64) (float64, error) { return c.SetPGAGain(v, 1) }, 20.3, 20.5},
		{"pga rounds to nearest below", func(v float64) (float64, error) { return c.SetPGAGain(v, 0) }, 20.2, 20},
		{"headphone rounds down", c.SetHeadphoneLevel, -0.2, -0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.set(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	st := c.State()
	assert.InDelta(t, 20.5, st.PGAGain[1], 1e-9)
	assert.InDelta(t, 20.0, st.PGAGain[0], 1e-9)
}

func TestOutOfRangeRejected(t *testing.T) {
	c := NewController(nil, nil)

	_, err := c.SetDACLevel(0.5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.True(t, rterrors.IsConfiguration(err))
	assert.Equal(t, -1, Status(err))

	_, err = c.SetADCLevel(-13)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = c.SetPGAGain(60, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = c.SetPGAGain(10, 2)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = c.SetHeadphoneLevel(-64)
	assert.ErrorIs(t, err, ErrOutOfRange)

	assert.Equal(t, State{}, c.State(), "rejected calls leave state untouched")
}

type failingCodec struct{ SoftCodec }

func (*failingCodec) SetDACLevel(float64) error { return errors.New("i2c write failed") }

func TestCodecFailureIsResourceError(t *testing.T) {
	c := NewController(&failingCodec{}, nil)
	_, err := c.SetDACLevel(-1)
	assert.True(t, rterrors.IsResource(err))
	assert.Zero(t, c.State().DACLevel)
}

func TestApplySettings(t *testing.T) {
	codec := NewSoftCodec()
	c := NewController(codec, nil)

	s := config.DefaultSettings()
	s.BeginMuted = true
	require.NoError(t, c.Apply(s))

	st := c.State()
	assert.Equal(t, s.DACLevel, st.DACLevel)
	assert.Equal(t, s.ADCLevel, st.ADCLevel)
	assert.Equal(t, s.PGAGain, st.PGAGain)
	assert.True(t, st.Muted)
	assert.Zero(t, codec.OutputGain())

	require.NoError(t, c.MuteSpeakers(false))
	assert.InDelta(t, 1.0, float64(codec.OutputGain()), 1e-6, "default levels are unity in software")
	assert.InDelta(t, 1.0, float64(codec.InputGain(0)), 1e-6)
	assert.InDelta(t, 1.0, float64(codec.InputGain(1)), 1e-6)
}

func TestSoftCodecGainsAreRelativeToDefaults(t *testing.T) {
	codec := NewSoftCodec()
	assert.Equal(t, float32(1), codec.InputGain(0))
	assert.Equal(t, float32(1), codec.OutputGain())

	// ADC 6 dB below its default, PGA 1 back at its default
	require.NoError(t, codec.SetADCLevel(config.DefaultADCLevel-6))
	require.NoError(t, codec.SetPGAGain(config.DefaultPGAGain, 1))
	assert.InDelta(t, 0.501, float64(codec.InputGain(1)), 0.001)
	require.NoError(t, codec.SetPGAGain(config.DefaultPGAGain+6, 0))
	assert.InDelta(t, 1.0, float64(codec.InputGain(0)), 0.01)

	require.NoError(t, codec.SetDACLevel(config.DefaultDACLevel))
	require.NoError(t, codec.SetHeadphoneLevel(config.DefaultHeadphoneLevel-6))
	assert.InDelta(t, 0.501, float64(codec.OutputGain()), 0.001)
}

func TestRenderPathCallStillApplies(t *testing.T) {
	var rendering atomic.Bool
	rendering.Store(true)
	c := NewController(nil, rendering.Load)

	got, err := c.SetDACLevel(-1)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, got, 1e-9)
}
