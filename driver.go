package bela

import (
	"fmt"

	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/driver/sim"
	"github.com/misterbo94/Bela/internal/driver/soundcard"
	"github.com/misterbo94/Bela/internal/driver/wavfile"
	rterrors "github.com/misterbo94/Bela/internal/errors"
	"github.com/misterbo94/Bela/internal/levels"
)

// newDriver builds the driver selected by s.Driver
func newDriver(s Settings) (driver.Driver, error) {
	switch s.Driver {
	case config.DriverSim, "":
		return sim.New(sim.Options{Mode: sim.Realtime}), nil
	case config.DriverSoundcard:
		return soundcard.New(soundcard.Options{
			DeviceName:  s.DeviceName,
			RingPeriods: config.GetConfig().SoundcardRingPeriods,
		}), nil
	case config.DriverWavFile:
		return wavfile.New(wavfile.Options{
			InputPath:  s.WavInput,
			OutputPath: s.WavOutput,
		}), nil
	default:
		return nil, rterrors.Configuration("select driver", fmt.Errorf("%w: %q", config.ErrInvalidDriver, s.Driver))
	}
}

// codecFor returns the level codec of drv, or a software codec that only
// records levels when the driver has none
func codecFor(drv driver.Driver) levels.Codec {
	if p, ok := drv.(driver.CodecProvider); ok {
		return p.Codec()
	}
	return levels.NewSoftCodec()
}
