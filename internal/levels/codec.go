package levels

import (
	"math"
	"sync/atomic"

	"github.com/misterbo94/Bela/internal/config"
)

// Codec applies level settings to the converter hardware. Values reaching a
// Codec have already been range checked and quantized.
type Codec interface {
	SetDACLevel(db float64) error
	SetADCLevel(db float64) error
	SetPGAGain(db float64, channel int) error
	SetHeadphoneLevel(db float64) error
	MuteSpeakers(mute bool) error
}

// SoftCodec implements Codec in software for drivers without a hardware codec.
// Each level is taken relative to its board default, so the default settings
// pass audio through at unity gain and every dB away from a default changes
// the software gain by that dB. Gains are stored as linear factors and read
// lock-free from the audio path.
type SoftCodec struct {
	dac   atomic.Uint64
	adc   atomic.Uint64
	pga   [2]atomic.Uint64
	hp    atomic.Uint64
	muted atomic.Bool
}

// NewSoftCodec returns a codec at unity gain, the same as the default levels
func NewSoftCodec() *SoftCodec {
	c := &SoftCodec{}
	for _, v := range []*atomic.Uint64{&c.dac, &c.adc, &c.pga[0], &c.pga[1], &c.hp} {
		v.Store(math.Float64bits(1))
	}
	return c
}

func dbToLinear(db float64) float64 { return math.Pow(10, db/20) }

func (c *SoftCodec) SetDACLevel(db float64) error {
	c.dac.Store(math.Float64bits(dbToLinear(db - config.DefaultDACLevel)))
	return nil
}

func (c *SoftCodec) SetADCLevel(db float64) error {
	c.adc.Store(math.Float64bits(dbToLinear(db - config.DefaultADCLevel)))
	return nil
}

func (c *SoftCodec) SetPGAGain(db float64, channel int) error {
	c.pga[channel].Store(math.Float64bits(dbToLinear(db - config.DefaultPGAGain)))
	return nil
}

func (c *SoftCodec) SetHeadphoneLevel(db float64) error {
	c.hp.Store(math.Float64bits(dbToLinear(db - config.DefaultHeadphoneLevel)))
	return nil
}

func (c *SoftCodec) MuteSpeakers(mute bool) error {
	c.muted.Store(mute)
	return nil
}

// InputGain returns the linear gain applied to input channel ch
func (c *SoftCodec) InputGain(ch int) float32 {
	g := math.Float64frombits(c.adc.Load())
	if ch >= 0 && ch < len(c.pga) {
		g *= math.Float64frombits(c.pga[ch].Load())
	}
	return float32(g)
}

// OutputGain returns the linear gain applied to every output channel
func (c *SoftCodec) OutputGain() float32 {
	if c.muted.Load() {
		return 0
	}
	return float32(math.Float64frombits(c.dac.Load()) * math.Float64frombits(c.hp.Load()))
}

// Muted reports whether the speaker output is muted
func (c *SoftCodec) Muted() bool { return c.muted.Load() }
