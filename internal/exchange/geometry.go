package exchange

import (
	"github.com/misterbo94/Bela/internal/config"
)

// Flags is the bitfield of active layout and persistence options
type Flags uint32

const (
	// FlagInterleaved is set when audio and analog buffers are frame-major
	FlagInterleaved Flags = 1 << 0
	// FlagAnalogOutputsPersist is set when analog output writes persist into later frames and periods
	FlagAnalogOutputsPersist Flags = 1 << 1
)

// Has reports whether every bit in f2 is set in f
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Geometry is the fixed-for-the-run shape of the three sampling domains
type Geometry struct {
	AudioFrames       int
	AudioInChannels   int
	AudioOutChannels  int
	AudioSampleRate   float64
	AnalogFrames      int
	AnalogInChannels  int
	AnalogOutChannels int
	AnalogSampleRate  float64
	DigitalFrames     int
	DigitalChannels   int
	DigitalSampleRate float64
	Flags             Flags
}

// NewGeometry derives the per-domain frame counts and rates from validated settings
func NewGeometry(s config.Settings) (Geometry, error) {
	if err := s.Validate(); err != nil {
		return Geometry{}, err
	}

	g := Geometry{
		AudioFrames:      s.PeriodSize,
		AudioInChannels:  s.NumAudioInChannels,
		AudioOutChannels: s.NumAudioOutChannels,
		AudioSampleRate:  s.AudioSampleRate,
	}

	if s.UseAnalog && s.AnalogConverterChannels() > 0 {
		num, den, err := config.AnalogRateRatio(s.AnalogConverterChannels())
		if err != nil {
			return Geometry{}, err
		}
		g.AnalogInChannels = s.AnalogInChannels()
		g.AnalogOutChannels = s.AnalogOutChannels()
		g.AnalogFrames = s.PeriodSize * num / den
		g.AnalogSampleRate = s.AudioSampleRate * float64(num) / float64(den)
	}

	if s.UseDigital {
		g.DigitalChannels = s.DigitalChannels()
		g.DigitalFrames = s.PeriodSize
		g.DigitalSampleRate = s.AudioSampleRate
	}

	if s.Interleave {
		g.Flags |= FlagInterleaved
	}
	if s.AnalogOutputsPersist {
		g.Flags |= FlagAnalogOutputsPersist
	}
	return g, nil
}

// PeriodSeconds returns the wall-clock duration of one period in seconds
func (g Geometry) PeriodSeconds() float64 {
	if g.AudioSampleRate <= 0 {
		return 0
	}
	return float64(g.AudioFrames) / g.AudioSampleRate
}
