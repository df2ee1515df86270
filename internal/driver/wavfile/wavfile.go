// Package wavfile renders offline: audio inputs are read from a WAV file and
// audio outputs are written to another, one period at a time and as fast as
// the render loop runs.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/logging"
)

// ErrInvalidWAV is returned for input files that are not PCM WAV
var ErrInvalidWAV = errors.New("invalid wav file")

const defaultBitDepth = 16

// Options configures the offline driver. Without an input the inputs are
// silent and MaxPeriods bounds the run.
type Options struct {
	InputPath  string
	OutputPath string
	MaxPeriods uint64
	BitDepth   int
}

// Driver reads and writes WAV files
type Driver struct {
	opts   Options
	geom   exchange.Geometry
	codec  *levels.SoftCodec
	logger *logging.ComponentLogger

	in      *os.File
	dec     *wav.Decoder
	inBuf   *audio.IntBuffer
	inChans int
	inScale float32

	out      *os.File
	enc      *wav.Encoder
	outBuf   *audio.IntBuffer
	outScale float32

	raw     *exchange.RawBuffers
	periods uint64
	open    bool
}

// New creates an offline driver
func New(opts Options) *Driver {
	if opts.BitDepth == 0 {
		opts.BitDepth = defaultBitDepth
	}
	return &Driver{
		opts:   opts,
		codec:  levels.NewSoftCodec(),
		logger: logging.NewComponentLogger(*logging.GetDefaultLogger(), "wav-driver"),
	}
}

func (d *Driver) Name() string { return "wavfile" }

// Codec returns the software codec applied to audio I/O
func (d *Driver) Codec() levels.Codec { return d.codec }

func (d *Driver) Open(g exchange.Geometry) error {
	d.geom = g
	d.raw = exchange.NewRawBuffers(g)

	if d.opts.InputPath != "" {
		if err := d.openInput(g); err != nil {
			return err
		}
	}
	if d.opts.OutputPath != "" {
		if err := d.openOutput(g); err != nil {
			d.closeInput()
			return err
		}
	}
	d.open = true
	return nil
}

func (d *Driver) openInput(g exchange.Geometry) error {
	f, err := os.Open(d.opts.InputPath)
	if err != nil {
		return fmt.Errorf("open wav input: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return fmt.Errorf("%w: %s", ErrInvalidWAV, d.opts.InputPath)
	}
	if dec.NumChans == 0 || dec.BitDepth == 0 {
		f.Close()
		return fmt.Errorf("%w: %s has no audio format", ErrInvalidWAV, d.opts.InputPath)
	}

	if float64(dec.SampleRate) != g.AudioSampleRate {
		d.logger.GetLogger().Warn().
			Uint32("file_rate", dec.SampleRate).
			Float64("audio_rate", g.AudioSampleRate).
			Msg("input sample rate differs from the audio rate, samples are not resampled")
	}

	d.in = f
	d.dec = dec
	d.inChans = int(dec.NumChans)
	d.inScale = float32(int64(1) << (dec.BitDepth - 1))
	d.inBuf = &audio.IntBuffer{
		Data:   make([]int, g.AudioFrames*d.inChans),
		Format: &audio.Format{SampleRate: int(dec.SampleRate), NumChannels: d.inChans},
	}
	d.logger.GetLogger().Debug().Str("path", d.opts.InputPath).Int("channels", d.inChans).Uint16("bit_depth", dec.BitDepth).Msg("wav input opened")
	return nil
}

func (d *Driver) openOutput(g exchange.Geometry) error {
	if g.AudioOutChannels == 0 {
		return nil
	}
	f, err := os.Create(d.opts.OutputPath)
	if err != nil {
		return fmt.Errorf("create wav output: %w", err)
	}
	d.out = f
	d.enc = wav.NewEncoder(f, int(g.AudioSampleRate), d.opts.BitDepth, g.AudioOutChannels, 1)
	d.outScale = float32(int64(1)<<(d.opts.BitDepth-1) - 1)
	d.outBuf = &audio.IntBuffer{
		Data:           make([]int, g.AudioFrames*g.AudioOutChannels),
		Format:         &audio.Format{SampleRate: int(g.AudioSampleRate), NumChannels: g.AudioOutChannels},
		SourceBitDepth: d.opts.BitDepth,
	}
	return nil
}

func (d *Driver) Start() error {
	if !d.open {
		return driver.ErrNotOpen
	}
	return nil
}

func (d *Driver) Next(ctx context.Context) (*exchange.RawBuffers, error) {
	if !d.open {
		return nil, driver.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.opts.MaxPeriods > 0 && d.periods >= d.opts.MaxPeriods {
		return nil, driver.ErrEndOfStream
	}

	raw := d.raw
	clear(raw.AudioIn)
	clear(raw.AnalogIn)
	clear(raw.Digital)

	if d.dec != nil {
		n, err := d.dec.PCMBuffer(d.inBuf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read wav: %v", driver.ErrIOFault, err)
		}
		if n == 0 {
			return nil, driver.ErrEndOfStream
		}
		d.deinterleaveInput(raw, n/d.inChans)
	}

	driver.ApplyInputGain(d.codec, raw.AudioIn, d.geom.AudioInChannels)
	d.periods++
	return raw, nil
}

// deinterleaveInput maps file channels onto audio inputs, repeating file
// channels when the file has fewer
func (d *Driver) deinterleaveInput(raw *exchange.RawBuffers, frames int) {
	channels := d.geom.AudioInChannels
	for f := 0; f < frames && f < d.geom.AudioFrames; f++ {
		for ch := 0; ch < channels; ch++ {
			src := d.inBuf.Data[f*d.inChans+ch%d.inChans]
			raw.AudioIn[f*channels+ch] = float32(src) / d.inScale
		}
	}
}

func (d *Driver) Commit(raw *exchange.RawBuffers) error {
	if !d.open {
		return driver.ErrNotOpen
	}
	driver.ApplyOutputGain(d.codec, raw.AudioOut)
	if d.enc == nil {
		return nil
	}
	for i, v := range raw.AudioOut {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		d.outBuf.Data[i] = int(math.Round(float64(v * d.outScale)))
	}
	if err := d.enc.Write(d.outBuf); err != nil {
		return fmt.Errorf("%w: write wav: %v", driver.ErrIOFault, err)
	}
	return nil
}

func (d *Driver) Close() error {
	if !d.open {
		return nil
	}
	d.open = false

	var errs []error
	if d.enc != nil {
		errs = append(errs, d.enc.Close())
		errs = append(errs, d.out.Close())
		d.enc = nil
	}
	d.closeInput()
	d.logger.GetLogger().Debug().Uint64("periods", d.periods).Msg("wav driver closed")
	return errors.Join(errs...)
}

func (d *Driver) closeInput() {
	if d.in != nil {
		d.in.Close()
		d.in = nil
		d.dec = nil
	}
}

// Periods returns the number of periods delivered
func (d *Driver) Periods() uint64 { return d.periods }
