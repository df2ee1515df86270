// Package exchange turns the raw sample set delivered by a driver each period
// into the RenderContext consumed by the render callback, and writes the
// callback's outputs back. It owns layout conversion, per-domain output
// persistence and the elapsed-frame counter.
package exchange

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrGeometryMismatch is returned when a raw set does not match the exchange geometry
var ErrGeometryMismatch = errors.New("raw buffer set does not match geometry")

// allInputs is the initial digital word: every pin an input, every value low
const allInputs = uint32(0xFFFF0000)

// Exchange holds the staging buffers in the user-facing layout
type Exchange struct {
	geom Geometry
	ctx  RenderContext

	audioIn   []float32
	audioOut  []float32
	analogIn  []float32
	analogOut []float32
	digital   []uint32

	// elapsed is written by the render thread and read from anywhere
	elapsed atomic.Uint64
}

// New creates an exchange for g
func New(g Geometry) *Exchange {
	x := &Exchange{
		geom:      g,
		ctx:       newContext(g),
		audioIn:   floats(g.AudioFrames * g.AudioInChannels),
		audioOut:  floats(g.AudioFrames * g.AudioOutChannels),
		analogIn:  floats(g.AnalogFrames * g.AnalogInChannels),
		analogOut: floats(g.AnalogFrames * g.AnalogOutChannels),
		digital:   words(g.DigitalFrames),
	}
	for i := range x.digital {
		x.digital[i] = allInputs
	}
	return x
}

// Geometry returns the shape the exchange was built for
func (x *Exchange) Geometry() Geometry { return x.geom }

// Elapsed returns the number of audio frames exchanged so far
func (x *Exchange) Elapsed() uint64 { return x.elapsed.Load() }

// SetupContext returns a context carrying the run's shape but no buffers,
// for the setup and cleanup callbacks
func (x *Exchange) SetupContext() *RenderContext {
	c := newContext(x.geom)
	c.AudioFramesElapsed = x.elapsed.Load()
	return &c
}

// Begin fills the render context from raw. Inputs are converted to the configured
// layout, audio outputs are cleared, analog outputs are cleared or carried over
// depending on persistence, and digital outputs always carry over.
func (x *Exchange) Begin(raw *RawBuffers) (*RenderContext, error) {
	if raw == nil || !raw.fits(x.geom) {
		return nil, fmt.Errorf("%w: audio %d/%d analog %d/%d digital %d", ErrGeometryMismatch,
			x.geom.AudioInChannels, x.geom.AudioOutChannels,
			x.geom.AnalogInChannels, x.geom.AnalogOutChannels, x.geom.DigitalFrames)
	}
	g := x.geom
	interleaved := g.Flags.Has(FlagInterleaved)

	x.importBlock(x.audioIn, raw.AudioIn, g.AudioInChannels, g.AudioFrames, interleaved)
	clear(x.audioOut)

	x.importBlock(x.analogIn, raw.AnalogIn, g.AnalogInChannels, g.AnalogFrames, interleaved)
	if g.Flags.Has(FlagAnalogOutputsPersist) {
		x.carryAnalogOut(interleaved)
	} else {
		clear(x.analogOut)
	}

	x.carryDigital(raw.Digital)

	x.ctx.audioIn = x.audioIn
	x.ctx.audioOut = x.audioOut
	x.ctx.analogIn = x.analogIn
	x.ctx.analogOut = x.analogOut
	x.ctx.digital = x.digital
	x.ctx.AudioFramesElapsed = x.elapsed.Load()
	x.ctx.live = true
	return &x.ctx, nil
}

// End writes the outputs of the current period back to raw in hardware order
// and advances the elapsed counter by one period.
func (x *Exchange) End(raw *RawBuffers) {
	g := x.geom
	interleaved := g.Flags.Has(FlagInterleaved)

	x.exportBlock(raw.AudioOut, x.audioOut, g.AudioOutChannels, g.AudioFrames, interleaved)
	x.exportBlock(raw.AnalogOut, x.analogOut, g.AnalogOutChannels, g.AnalogFrames, interleaved)
	copy(raw.Digital, x.digital)

	x.elapsed.Add(uint64(g.AudioFrames))
}

func (x *Exchange) importBlock(dst, src []float32, channels, frames int, interleaved bool) {
	if interleaved {
		copy(dst, src)
		return
	}
	Deinterleave(dst, src, channels, frames)
}

func (x *Exchange) exportBlock(dst, src []float32, channels, frames int, interleaved bool) {
	if interleaved {
		copy(dst, src)
		return
	}
	Interleave(dst, src, channels, frames)
}

// carryAnalogOut extends the last value of each channel across the new period
func (x *Exchange) carryAnalogOut(interleaved bool) {
	g := x.geom
	if g.AnalogFrames == 0 {
		return
	}
	last := g.AnalogFrames - 1
	for ch := 0; ch < g.AnalogOutChannels; ch++ {
		v := x.analogOut[sampleIndex(interleaved, last, ch, g.AnalogOutChannels, g.AnalogFrames)]
		for f := 0; f < last; f++ {
			x.analogOut[sampleIndex(interleaved, f, ch, g.AnalogOutChannels, g.AnalogFrames)] = v
		}
	}
}

// carryDigital keeps output pin values and directions from the last frame of the
// previous period and takes input pin values from the driver.
func (x *Exchange) carryDigital(raw []uint32) {
	if len(x.digital) == 0 {
		return
	}
	last := x.digital[len(x.digital)-1]
	inputs := last >> 16
	for f := range x.digital {
		held := last &^ inputs
		x.digital[f] = held | (raw[f] & inputs & 0xFFFF)
	}
}
