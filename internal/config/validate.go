package config

import (
	"errors"
	"fmt"

	rterrors "github.com/misterbo94/Bela/internal/errors"
)

// Validation errors
var (
	ErrInvalidPeriodSize     = errors.New("invalid period size")
	ErrInvalidSampleRate     = errors.New("invalid sample rate")
	ErrInvalidChannels       = errors.New("invalid channel count")
	ErrChannelAsymmetry      = errors.New("input and output channel counts differ")
	ErrInvalidAnalogChannels = errors.New("analog channel count must be 2, 4 or 8")
	ErrPeriodNotDivisible    = errors.New("period size not divisible by analog rate ratio")
	ErrInvalidDigital        = errors.New("digital channel count must be 16")
	ErrInvalidPriority       = errors.New("invalid priority value")
	ErrInvalidLevel          = errors.New("level out of range")
	ErrInvalidDriver         = errors.New("unknown driver")
	ErrInvalidPort           = errors.New("invalid network port")
	ErrInvalidHardware       = errors.New("invalid hardware setting")
)

// Hardware level ranges in decibels
const (
	MinDACLevel       = -63.5
	MaxDACLevel       = 0.0
	MinADCLevel       = -12.0
	MaxADCLevel       = 0.0
	MinPGAGain        = 0.0
	MaxPGAGain        = 59.5
	MinHeadphoneLevel = -63.5
	MaxHeadphoneLevel = 0.0
)

// AnalogRateRatio returns the analog sample rate as a fraction of the audio rate for
// the given analog channel count: 8 channels run at a quarter, 4 at half, 2 at full rate.
func AnalogRateRatio(channels int) (num, den int, err error) {
	switch channels {
	case 8:
		return 1, 4, nil
	case 4:
		return 1, 2, nil
	case 2:
		return 1, 1, nil
	default:
		return 0, 0, ErrInvalidAnalogChannels
	}
}

// AnalogConverterChannels returns the channel count that determines the analog rate
func (s Settings) AnalogConverterChannels() int {
	return max(s.AnalogInChannels(), s.AnalogOutChannels())
}

// Validate checks every settings invariant. It returns a configuration error
// describing the first violation found.
func (s Settings) Validate() error {
	if err := s.validate(); err != nil {
		return rterrors.Configuration("validate settings", err)
	}
	return nil
}

func (s Settings) validate() error {
	if s.PeriodSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPeriodSize, s.PeriodSize)
	}
	if s.AudioSampleRate <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRate, s.AudioSampleRate)
	}
	if s.NumAudioInChannels < 0 || s.NumAudioOutChannels < 0 {
		return fmt.Errorf("%w: audio %d/%d", ErrInvalidChannels, s.NumAudioInChannels, s.NumAudioOutChannels)
	}
	if s.RequireSymmetry && s.NumAudioInChannels != s.NumAudioOutChannels {
		return fmt.Errorf("%w: audio %d in, %d out", ErrChannelAsymmetry, s.NumAudioInChannels, s.NumAudioOutChannels)
	}

	if s.UseAnalog {
		if s.NumAnalogInChannels < 0 || s.NumAnalogOutChannels < 0 {
			return fmt.Errorf("%w: analog %d/%d", ErrInvalidChannels, s.NumAnalogInChannels, s.NumAnalogOutChannels)
		}
		if s.RequireSymmetry && s.NumAnalogInChannels != s.NumAnalogOutChannels {
			return fmt.Errorf("%w: analog %d in, %d out", ErrChannelAsymmetry, s.NumAnalogInChannels, s.NumAnalogOutChannels)
		}
		_, den, err := AnalogRateRatio(s.AnalogConverterChannels())
		if err != nil {
			return fmt.Errorf("%w: got %d", err, s.AnalogConverterChannels())
		}
		if s.PeriodSize%den != 0 {
			return fmt.Errorf("%w: %d frames with ratio 1/%d", ErrPeriodNotDivisible, s.PeriodSize, den)
		}
	}

	if s.UseDigital && s.NumDigitalChannels != DigitalChannelCount {
		return fmt.Errorf("%w: got %d", ErrInvalidDigital, s.NumDigitalChannels)
	}

	if s.RenderPriority < 1 || s.RenderPriority > MaxPriority {
		return fmt.Errorf("%w: render priority %d", ErrInvalidPriority, s.RenderPriority)
	}

	if err := checkRange("dac level", s.DACLevel, MinDACLevel, MaxDACLevel); err != nil {
		return err
	}
	if err := checkRange("adc level", s.ADCLevel, MinADCLevel, MaxADCLevel); err != nil {
		return err
	}
	for ch, gain := range s.PGAGain {
		if err := checkRange(fmt.Sprintf("pga gain %d", ch), gain, MinPGAGain, MaxPGAGain); err != nil {
			return err
		}
	}
	if err := checkRange("headphone level", s.HeadphoneLevel, MinHeadphoneLevel, MaxHeadphoneLevel); err != nil {
		return err
	}

	switch s.Driver {
	case DriverSim, DriverSoundcard, DriverWavFile:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, s.Driver)
	}

	if err := s.validateHardware(); err != nil {
		return err
	}

	for _, port := range []int{s.ReceivePort, s.TransmitPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}
	return nil
}

// validateHardware checks the board description. Only the board driver acts on
// it, but a bad value is still a configuration error on every driver.
func (s Settings) validateHardware() error {
	switch s.NumMuxChannels {
	case 0, 2, 4, 8:
	default:
		return fmt.Errorf("%w: mux channels %d not in {0, 2, 4, 8}", ErrInvalidHardware, s.NumMuxChannels)
	}
	if s.PRUNumber != 0 && s.PRUNumber != 1 {
		return fmt.Errorf("%w: pru number %d", ErrInvalidHardware, s.PRUNumber)
	}
	// 7-bit addresses, reserved ranges excluded
	if s.CodecI2CAddress < 0x03 || s.CodecI2CAddress > 0x77 {
		return fmt.Errorf("%w: codec i2c address %#x", ErrInvalidHardware, s.CodecI2CAddress)
	}
	// -1 means no mute pin
	if s.AmpMutePin < -1 {
		return fmt.Errorf("%w: amp mute pin %d", ErrInvalidHardware, s.AmpMutePin)
	}
	return nil
}

func checkRange(name string, value, lo, hi float64) error {
	if value < lo || value > hi {
		return fmt.Errorf("%w: %s %g outside [%g, %g]", ErrInvalidLevel, name, value, lo, hi)
	}
	return nil
}
