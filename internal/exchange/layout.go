package exchange

// Interleave writes a channel-major (planar) block into dst in frame-major order.
// dst and planar must both hold channels*frames samples.
func Interleave(dst, planar []float32, channels, frames int) {
	for ch := 0; ch < channels; ch++ {
		src := planar[ch*frames : (ch+1)*frames]
		for f, v := range src {
			dst[f*channels+ch] = v
		}
	}
}

// Deinterleave writes a frame-major block into dst in channel-major order.
// dst and interleaved must both hold channels*frames samples.
func Deinterleave(dst, interleaved []float32, channels, frames int) {
	for ch := 0; ch < channels; ch++ {
		out := dst[ch*frames : (ch+1)*frames]
		for f := range out {
			out[f] = interleaved[f*channels+ch]
		}
	}
}

// sampleIndex returns the position of (frame, channel) for the given layout
func sampleIndex(interleaved bool, frame, channel, channels, frames int) int {
	if interleaved {
		return frame*channels + channel
	}
	return channel*frames + frame
}
