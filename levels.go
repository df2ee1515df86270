package bela

import "github.com/misterbo94/Bela/internal/levels"

// Level controls return 0 on success and -1 on failure. They block on the
// codec and must not be called from render.

// SetDACLevel sets the DAC level in dB, [-63.5, 0] in 0.5 dB steps
func (c *Core) SetDACLevel(db float64) int {
	_, err := c.levels.SetDACLevel(db)
	return c.levelStatus("dac", err)
}

// SetADCLevel sets the ADC level in dB, [-12, 0] in 1.5 dB steps
func (c *Core) SetADCLevel(db float64) int {
	_, err := c.levels.SetADCLevel(db)
	return c.levelStatus("adc", err)
}

// SetPGAGain sets the preamp gain of channel 0 or 1 in dB, [0, 59.5] in 0.5 dB steps
func (c *Core) SetPGAGain(db float64, channel int) int {
	_, err := c.levels.SetPGAGain(db, channel)
	return c.levelStatus("pga", err)
}

// SetHeadphoneLevel sets the headphone level in dB, [-63.5, 0] in 0.5 dB steps
func (c *Core) SetHeadphoneLevel(db float64) int {
	_, err := c.levels.SetHeadphoneLevel(db)
	return c.levelStatus("headphone", err)
}

// MuteSpeakers mutes or unmutes the speaker amplifier
func (c *Core) MuteSpeakers(mute bool) int {
	return c.levelStatus("mute", c.levels.MuteSpeakers(mute))
}

func (c *Core) levelStatus(control string, err error) int {
	if err != nil {
		c.logger.GetLogger().Warn().Err(err).Str("control", control).Msg("level change rejected")
	}
	return levels.Status(err)
}
