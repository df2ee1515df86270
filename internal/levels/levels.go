// Package levels implements the converter level controls. Each call is range
// checked, quantized to the hardware step and passed to a Codec. The calls are
// synchronous and must not be made from the render callback; doing so only
// produces a warning.
package levels

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/misterbo94/Bela/internal/config"
	rterrors "github.com/misterbo94/Bela/internal/errors"
	"github.com/misterbo94/Bela/internal/logging"
)

var (
	ErrOutOfRange     = errors.New("level out of range")
	ErrInvalidChannel = errors.New("invalid preamp channel")
)

// Hardware step sizes in dB
const (
	DACStep       = 0.5
	ADCStep       = 1.5
	PGAStep       = 0.5
	HeadphoneStep = 0.5
)

// State is the last applied value of every control
type State struct {
	DACLevel       float64    `json:"dac_level"`
	ADCLevel       float64    `json:"adc_level"`
	PGAGain        [2]float64 `json:"pga_gain"`
	HeadphoneLevel float64    `json:"headphone_level"`
	Muted          bool       `json:"muted"`
}

// Controller serializes level changes onto a Codec
type Controller struct {
	codec    Codec
	inRender func() bool
	logger   *logging.ComponentLogger

	mu    sync.Mutex
	state State
}

// NewController creates a controller. inRender, when set, reports whether a
// render invocation is in flight.
func NewController(codec Codec, inRender func() bool) *Controller {
	if codec == nil {
		codec = NewSoftCodec()
	}
	return &Controller{
		codec:    codec,
		inRender: inRender,
		logger:   logging.NewComponentLogger(*logging.GetDefaultLogger(), "levels"),
	}
}

// Apply sets every control from s. Used once at initialization.
func (c *Controller) Apply(s config.Settings) error {
	if _, err := c.SetDACLevel(s.DACLevel); err != nil {
		return err
	}
	if _, err := c.SetADCLevel(s.ADCLevel); err != nil {
		return err
	}
	for ch, gain := range s.PGAGain {
		if _, err := c.SetPGAGain(gain, ch); err != nil {
			return err
		}
	}
	if _, err := c.SetHeadphoneLevel(s.HeadphoneLevel); err != nil {
		return err
	}
	return c.MuteSpeakers(s.BeginMuted)
}

// SetDACLevel sets the DAC output level, rounded down to 0.5 dB. It returns the applied value.
func (c *Controller) SetDACLevel(db float64) (float64, error) {
	v, err := quantize("dac level", db, config.MinDACLevel, config.MaxDACLevel, DACStep, math.Floor)
	if err != nil {
		return 0, err
	}
	return v, c.apply("set dac level", func() error { return c.codec.SetDACLevel(v) }, func(s *State) { s.DACLevel = v })
}

// SetADCLevel sets the ADC input level, rounded down to 1.5 dB
func (c *Controller) SetADCLevel(db float64) (float64, error) {
	v, err := quantize("adc level", db, config.MinADCLevel, config.MaxADCLevel, ADCStep, math.Floor)
	if err != nil {
		return 0, err
	}
	return v, c.apply("set adc level", func() error { return c.codec.SetADCLevel(v) }, func(s *State) { s.ADCLevel = v })
}

// SetPGAGain sets the preamp gain of channel 0 or 1, rounded to the nearest 0.5 dB
func (c *Controller) SetPGAGain(db float64, channel int) (float64, error) {
	if channel < 0 || channel > 1 {
		return 0, rterrors.Configuration("set pga gain", fmt.Errorf("%w: %d", ErrInvalidChannel, channel))
	}
	v, err := quantize("pga gain", db, config.MinPGAGain, config.MaxPGAGain, PGAStep, math.Round)
	if err != nil {
		return 0, err
	}
	return v, c.apply("set pga gain", func() error { return c.codec.SetPGAGain(v, channel) }, func(s *State) { s.PGAGain[channel] = v })
}

// SetHeadphoneLevel sets the headphone level, rounded down to 0.5 dB
func (c *Controller) SetHeadphoneLevel(db float64) (float64, error) {
	v, err := quantize("headphone level", db, config.MinHeadphoneLevel, config.MaxHeadphoneLevel, HeadphoneStep, math.Floor)
	if err != nil {
		return 0, err
	}
	return v, c.apply("set headphone level", func() error { return c.codec.SetHeadphoneLevel(v) }, func(s *State) { s.HeadphoneLevel = v })
}

// MuteSpeakers mutes or unmutes the speaker amplifier
func (c *Controller) MuteSpeakers(mute bool) error {
	return c.apply("mute speakers", func() error { return c.codec.MuteSpeakers(mute) }, func(s *State) { s.Muted = mute })
}

// State returns the last applied values
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) apply(op string, set func() error, record func(*State)) error {
	if c.inRender != nil && c.inRender() {
		c.logger.GetLogger().Warn().Str("operation", op).Msg("level control called while a render invocation is in flight")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := set(); err != nil {
		return rterrors.Resource(op, err)
	}
	record(&c.state)
	return nil
}

// quantize checks value against [lo, hi] and snaps it to a multiple of step
func quantize(name string, value, lo, hi, step float64, round func(float64) float64) (float64, error) {
	if math.IsNaN(value) || value < lo || value > hi {
		return 0, rterrors.Configuration("set "+name, fmt.Errorf("%w: %g outside [%g, %g]", ErrOutOfRange, value, lo, hi))
	}
	v := round(value/step) * step
	return math.Max(lo, math.Min(hi, v)), nil
}

// Status converts the result of a level call to a numeric status code:
// 0 on success, -1 on failure.
func Status(err error) int {
	if err != nil {
		return -1
	}
	return 0
}
