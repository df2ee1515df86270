package driver

import "github.com/misterbo94/Bela/internal/levels"

// ApplyInputGain scales frame-major audio input by the codec input gains
func ApplyInputGain(codec *levels.SoftCodec, samples []float32, channels int) {
	if codec == nil || channels == 0 {
		return
	}
	for i := range samples {
		samples[i] *= codec.InputGain(i % channels)
	}
}

// ApplyOutputGain scales audio output by the codec output gain
func ApplyOutputGain(codec *levels.SoftCodec, samples []float32) {
	if codec == nil {
		return
	}
	g := codec.OutputGain()
	if g == 1 {
		return
	}
	for i := range samples {
		samples[i] *= g
	}
}
