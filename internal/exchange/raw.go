package exchange

import (
	"sync"
	"sync/atomic"
)

// RawBuffers is the sample set a driver hands over at each period boundary.
// Audio and analog samples are always frame-major (hardware order). Digital
// holds one word per frame: the low 16 bits are pin values and the high 16
// bits are pin directions, 1 meaning input.
type RawBuffers struct {
	AudioIn   []float32
	AudioOut  []float32
	AnalogIn  []float32
	AnalogOut []float32
	Digital   []uint32
}

// NewRawBuffers allocates a raw set sized for g. Blocks of a disabled or
// empty domain are nil.
func NewRawBuffers(g Geometry) *RawBuffers {
	return &RawBuffers{
		AudioIn:   floats(g.AudioFrames * g.AudioInChannels),
		AudioOut:  floats(g.AudioFrames * g.AudioOutChannels),
		AnalogIn:  floats(g.AnalogFrames * g.AnalogInChannels),
		AnalogOut: floats(g.AnalogFrames * g.AnalogOutChannels),
		Digital:   words(g.DigitalFrames),
	}
}

func floats(n int) []float32 {
	if n == 0 {
		return nil
	}
	return make([]float32, n)
}

func words(n int) []uint32 {
	if n == 0 {
		return nil
	}
	return make([]uint32, n)
}

// fits reports whether r has the exact shape required by g
func (r *RawBuffers) fits(g Geometry) bool {
	return len(r.AudioIn) == g.AudioFrames*g.AudioInChannels &&
		len(r.AudioOut) == g.AudioFrames*g.AudioOutChannels &&
		len(r.AnalogIn) == g.AnalogFrames*g.AnalogInChannels &&
		len(r.AnalogOut) == g.AnalogFrames*g.AnalogOutChannels &&
		len(r.Digital) == g.DigitalFrames
}

// RawPool recycles raw buffer sets of one geometry so drivers avoid allocating
// per period. Sets are preallocated up front and stay reachable from the pool,
// so a garbage collection never forces the render path to allocate. Get only
// allocates when more sets are outstanding than were preallocated.
type RawPool struct {
	mu    sync.Mutex
	free  []*RawBuffers
	depth int
	geom  Geometry

	// Statistics for monitoring
	gets   atomic.Int64
	puts   atomic.Int64
	misses atomic.Int64
}

// NewRawPool creates a pool holding depth preallocated raw sets shaped by g
func NewRawPool(g Geometry, depth int) *RawPool {
	if depth < 1 {
		depth = 1
	}
	p := &RawPool{
		free:  make([]*RawBuffers, 0, depth),
		depth: depth,
		geom:  g,
	}
	for i := 0; i < depth; i++ {
		p.free = append(p.free, NewRawBuffers(g))
	}
	return p
}

// Get returns a raw set. Its contents are whatever the previous user left in it.
func (p *RawPool) Get() *RawBuffers {
	p.gets.Add(1)
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		r := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return r
	}
	p.mu.Unlock()

	p.misses.Add(1)
	return NewRawBuffers(p.geom)
}

// Put returns a raw set to the pool. Sets of a different shape, and sets beyond
// the pool depth, are dropped.
func (p *RawPool) Put(r *RawBuffers) {
	if r == nil || !r.fits(p.geom) {
		return
	}
	p.puts.Add(1)
	p.mu.Lock()
	if len(p.free) < p.depth {
		p.free = append(p.free, r)
	}
	p.mu.Unlock()
}

// RawPoolStats reports pool usage
type RawPoolStats struct {
	Gets   int64
	Puts   int64
	Misses int64
	Free   int
}

// Stats returns the pool counters
func (p *RawPool) Stats() RawPoolStats {
	p.mu.Lock()
	free := len(p.free)
	p.mu.Unlock()
	return RawPoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		Misses: p.misses.Load(),
		Free:   free,
	}
}
