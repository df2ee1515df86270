// Package soundcard drives a host audio device through miniaudio. The device
// callback runs on its own thread at the device's own cadence, so samples are
// bridged to the render loop through ring buffers sized in whole periods.
package soundcard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/logging"
)

const bytesPerSample = 4

// ErrDeviceNotFound is returned when no device matches the configured name
var ErrDeviceNotFound = errors.New("audio device not found")

// Options configures the device driver
type Options struct {
	// DeviceName selects a device by case-insensitive substring, empty for the default device
	DeviceName string
	// RingPeriods sizes the ring buffers, 0 for the configured default
	RingPeriods int
}

// Driver runs a duplex miniaudio device
type Driver struct {
	opts   Options
	logger *logging.ComponentLogger
	codec  *levels.SoftCodec

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	*bridge
}

// bridge moves interleaved float32 samples between the device callback and the render loop
type bridge struct {
	geom     exchange.Geometry
	inRing   *ringbuffer.RingBuffer
	outRing  *ringbuffer.RingBuffer
	inBytes  []byte
	outBytes []byte
	raw      *exchange.RawBuffers
	ready    chan struct{}

	stopped   atomic.Bool
	overruns  atomic.Uint64
	underruns atomic.Uint64
}

func newBridge(g exchange.Geometry, ringPeriods int) *bridge {
	inPeriod := g.AudioFrames * g.AudioInChannels * bytesPerSample
	outPeriod := g.AudioFrames * g.AudioOutChannels * bytesPerSample
	b := &bridge{
		geom:     g,
		inBytes:  make([]byte, inPeriod),
		outBytes: make([]byte, outPeriod),
		raw:      exchange.NewRawBuffers(g),
		ready:    make(chan struct{}, 1),
	}
	if inPeriod > 0 {
		b.inRing = ringbuffer.New(inPeriod * ringPeriods)
	}
	if outPeriod > 0 {
		b.outRing = ringbuffer.New(outPeriod * ringPeriods)
		// One period of silence in flight so the first callback does not underrun
		_, _ = b.outRing.Write(make([]byte, outPeriod))
	}
	return b
}

// New creates a device driver
func New(opts Options) *Driver {
	if opts.RingPeriods <= 0 {
		opts.RingPeriods = config.GetConfig().SoundcardRingPeriods
	}
	return &Driver{
		opts:   opts,
		codec:  levels.NewSoftCodec(),
		logger: logging.NewComponentLogger(*logging.GetDefaultLogger(), "soundcard-driver"),
	}
}

func (d *Driver) Name() string { return "soundcard" }

// Codec returns the software codec applied to audio I/O
func (d *Driver) Codec() levels.Codec { return d.codec }

func backendForPlatform() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

func (d *Driver) Open(g exchange.Geometry) error {
	mctx, err := malgo.InitContext(backendForPlatform(), malgo.ContextConfig{}, func(message string) {
		d.logger.GetLogger().Trace().Str("backend", strings.TrimSpace(message)).Msg("miniaudio")
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	d.mctx = mctx

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(g.AudioInChannels)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(g.AudioOutChannels)
	cfg.SampleRate = uint32(g.AudioSampleRate)
	cfg.PeriodSizeInFrames = uint32(g.AudioFrames)
	cfg.Alsa.NoMMap = 1

	if d.opts.DeviceName != "" {
		capture, err := d.findDevice(malgo.Capture)
		if err != nil {
			d.closeContext()
			return err
		}
		playback, err := d.findDevice(malgo.Playback)
		if err != nil {
			d.closeContext()
			return err
		}
		cfg.Capture.DeviceID = capture.ID.Pointer()
		cfg.Playback.DeviceID = playback.ID.Pointer()
	}

	d.bridge = newBridge(g, d.opts.RingPeriods)
	device, err := malgo.InitDevice(d.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: d.onStop,
	})
	if err != nil {
		d.closeContext()
		return fmt.Errorf("init audio device: %w", err)
	}
	d.device = device

	d.logger.GetLogger().Info().
		Int("inputs", g.AudioInChannels).
		Int("outputs", g.AudioOutChannels).
		Float64("sample_rate", g.AudioSampleRate).
		Int("period", g.AudioFrames).
		Msg("audio device opened")
	return nil
}

func (d *Driver) findDevice(kind malgo.DeviceType) (*malgo.DeviceInfo, error) {
	infos, err := d.mctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}
	want := strings.ToLower(d.opts.DeviceName)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), want) {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, d.opts.DeviceName)
}

func (d *Driver) Start() error {
	if d.device == nil {
		return driver.ErrNotOpen
	}
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("%w: start device: %v", driver.ErrIOFault, err)
	}
	return nil
}

// onData is the device callback: queue captured input, drain pending output
func (b *bridge) onData(out, in []byte, frames uint32) {
	if len(in) > 0 && b.inRing != nil {
		if _, err := b.inRing.Write(in); err != nil {
			b.overruns.Add(1)
		}
	}
	if len(out) > 0 {
		n := 0
		if b.outRing != nil {
			n, _ = b.outRing.Read(out)
		}
		if n < len(out) {
			clear(out[n:])
			b.underruns.Add(1)
		}
	}
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *bridge) onStop() {
	b.stopped.Store(true)
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// periodReady reports whether a full input period is queued and a full output period fits
func (b *bridge) periodReady() bool {
	if b.inRing != nil && b.inRing.Length() < len(b.inBytes) {
		return false
	}
	if b.outRing != nil && b.outRing.Free() < len(b.outBytes) {
		return false
	}
	return true
}

func (b *bridge) next(ctx context.Context) (*exchange.RawBuffers, error) {
	for !b.periodReady() {
		if b.stopped.Load() {
			return nil, fmt.Errorf("%w: device stopped", driver.ErrIOFault)
		}
		select {
		case <-b.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	raw := b.raw
	if b.inRing != nil {
		if _, err := b.inRing.Read(b.inBytes); err != nil {
			return nil, fmt.Errorf("%w: read input ring: %v", driver.ErrIOFault, err)
		}
		decodeFloat32(raw.AudioIn, b.inBytes)
	}
	clear(raw.AnalogIn)
	clear(raw.Digital)
	return raw, nil
}

func (b *bridge) commit(raw *exchange.RawBuffers) error {
	if b.outRing == nil {
		return nil
	}
	encodeFloat32(b.outBytes, raw.AudioOut)
	if _, err := b.outRing.Write(b.outBytes); err != nil {
		b.overruns.Add(1)
	}
	return nil
}

func (d *Driver) Next(ctx context.Context) (*exchange.RawBuffers, error) {
	if d.device == nil {
		return nil, driver.ErrNotOpen
	}
	raw, err := d.next(ctx)
	if err != nil {
		return nil, err
	}
	driver.ApplyInputGain(d.codec, raw.AudioIn, d.geom.AudioInChannels)
	return raw, nil
}

func (d *Driver) Commit(raw *exchange.RawBuffers) error {
	if d.device == nil {
		return driver.ErrNotOpen
	}
	driver.ApplyOutputGain(d.codec, raw.AudioOut)
	return d.commit(raw)
}

func (d *Driver) Close() error {
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
		d.logger.GetLogger().Debug().
			Uint64("overruns", d.overruns.Load()).
			Uint64("underruns", d.underruns.Load()).
			Msg("audio device closed")
	}
	d.closeContext()
	return nil
}

func (d *Driver) closeContext() {
	if d.mctx == nil {
		return
	}
	if err := d.mctx.Uninit(); err != nil {
		d.logger.LogWarningWithError(err, "failed to uninit audio context")
	}
	d.mctx.Free()
	d.mctx = nil
}

// XRuns returns the ring overrun and underrun counts
func (d *Driver) XRuns() (overruns, underruns uint64) {
	if d.bridge == nil {
		return 0, 0
	}
	return d.overruns.Load(), d.underruns.Load()
}

func decodeFloat32(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*bytesPerSample:]))
	}
}

func encodeFloat32(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*bytesPerSample:], math.Float32bits(v))
	}
}
