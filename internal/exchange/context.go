package exchange

// RenderContext is the per-period snapshot handed to the render callback. It is
// only valid for the duration of one invocation; the exchange reuses it for the
// next period. Input views must be treated as read-only.
type RenderContext struct {
	audioIn   []float32
	audioOut  []float32
	analogIn  []float32
	analogOut []float32
	digital   []uint32
	live      bool

	AudioFrames      int
	AudioInChannels  int
	AudioOutChannels int
	AudioSampleRate  float64

	AnalogFrames      int
	AnalogInChannels  int
	AnalogOutChannels int
	AnalogSampleRate  float64

	DigitalFrames     int
	DigitalChannels   int
	DigitalSampleRate float64

	// AudioFramesElapsed is the number of audio frames rendered before this period
	AudioFramesElapsed uint64
	Flags              Flags
}

func newContext(g Geometry) RenderContext {
	return RenderContext{
		AudioFrames:       g.AudioFrames,
		AudioInChannels:   g.AudioInChannels,
		AudioOutChannels:  g.AudioOutChannels,
		AudioSampleRate:   g.AudioSampleRate,
		AnalogFrames:      g.AnalogFrames,
		AnalogInChannels:  g.AnalogInChannels,
		AnalogOutChannels: g.AnalogOutChannels,
		AnalogSampleRate:  g.AnalogSampleRate,
		DigitalFrames:     g.DigitalFrames,
		DigitalChannels:   g.DigitalChannels,
		DigitalSampleRate: g.DigitalSampleRate,
		Flags:             g.Flags,
	}
}

// Live reports whether the context carries buffers. The context passed to setup and cleanup does not.
func (c *RenderContext) Live() bool { return c.live }

// Interleaved reports whether buffers are frame-major
func (c *RenderContext) Interleaved() bool { return c.Flags.Has(FlagInterleaved) }

// AnalogOutputsPersist reports whether analog output writes persist
func (c *RenderContext) AnalogOutputsPersist() bool { return c.Flags.Has(FlagAnalogOutputsPersist) }

// AudioIn returns the audio input block in the configured layout
func (c *RenderContext) AudioIn() []float32 { return c.audioIn }

// AudioOut returns the audio output block in the configured layout
func (c *RenderContext) AudioOut() []float32 { return c.audioOut }

// AnalogIn returns the analog input block in the configured layout
func (c *RenderContext) AnalogIn() []float32 { return c.analogIn }

// AnalogOut returns the analog output block in the configured layout
func (c *RenderContext) AnalogOut() []float32 { return c.analogOut }

// Digital returns the digital words, one per frame
func (c *RenderContext) Digital() []uint32 { return c.digital }

// AudioRead returns the input sample at frame and channel
func (c *RenderContext) AudioRead(frame, channel int) float32 {
	return c.audioIn[sampleIndex(c.Interleaved(), frame, channel, c.AudioInChannels, c.AudioFrames)]
}

// AudioWrite sets the output sample at frame and channel
func (c *RenderContext) AudioWrite(frame, channel int, value float32) {
	c.audioOut[sampleIndex(c.Interleaved(), frame, channel, c.AudioOutChannels, c.AudioFrames)] = value
}

// AnalogRead returns the analog input sample at frame and channel
func (c *RenderContext) AnalogRead(frame, channel int) float32 {
	return c.analogIn[sampleIndex(c.Interleaved(), frame, channel, c.AnalogInChannels, c.AnalogFrames)]
}

// AnalogWrite sets the analog output at frame and channel. With persistence
// enabled the value also fills every later frame of the period and carries
// into following periods until overwritten.
func (c *RenderContext) AnalogWrite(frame, channel int, value float32) {
	if !c.AnalogOutputsPersist() {
		c.AnalogWriteOnce(frame, channel, value)
		return
	}
	for f := frame; f < c.AnalogFrames; f++ {
		c.AnalogWriteOnce(f, channel, value)
	}
}

// AnalogWriteOnce sets the analog output at a single frame regardless of persistence
func (c *RenderContext) AnalogWriteOnce(frame, channel int, value float32) {
	c.analogOut[sampleIndex(c.Interleaved(), frame, channel, c.AnalogOutChannels, c.AnalogFrames)] = value
}

// PinMode is the direction of a digital pin
type PinMode int

const (
	PinInput PinMode = iota
	PinOutput
)

// PinMode sets the direction of pin from frame to the end of the period
func (c *RenderContext) PinMode(frame, pin int, mode PinMode) {
	bit := uint32(1) << (16 + pin)
	for f := frame; f < c.DigitalFrames; f++ {
		if mode == PinInput {
			c.digital[f] |= bit
		} else {
			c.digital[f] &^= bit
		}
	}
}

// DigitalRead returns the value of pin at frame
func (c *RenderContext) DigitalRead(frame, pin int) bool {
	return c.digital[frame]&(1<<pin) != 0
}

// DigitalWrite sets pin from frame to the end of the period. Digital outputs
// always persist into following periods.
func (c *RenderContext) DigitalWrite(frame, pin int, value bool) {
	for f := frame; f < c.DigitalFrames; f++ {
		c.DigitalWriteOnce(f, pin, value)
	}
}

// DigitalWriteOnce sets pin at a single frame
func (c *RenderContext) DigitalWriteOnce(frame, pin int, value bool) {
	if value {
		c.digital[frame] |= 1 << pin
	} else {
		c.digital[frame] &^= 1 << pin
	}
}
