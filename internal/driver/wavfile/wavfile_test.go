package wavfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/driver"
	"github.com/misterbo94/Bela/internal/exchange"
)

func audioOnlyGeometry(t *testing.T) exchange.Geometry {
	t.Helper()
	s := config.DefaultSettings()
	s.UseAnalog = false
	s.UseDigital = false
	g, err := exchange.NewGeometry(s)
	require.NoError(t, err)
	return g
}

func writeStereo(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[2*i] = i * 100
		data[2*i+1] = -i * 100
	}
	enc := wav.NewEncoder(f, 44100, 16, 2, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{Data: data, Format: &audio.Format{SampleRate: 44100, NumChannels: 2}}))
	require.NoError(t, enc.Close())
}

func TestPassthroughRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	writeStereo(t, in, 40)

	d := New(Options{InputPath: in, OutputPath: out})
	g := audioOnlyGeometry(t)
	require.NoError(t, d.Open(g))
	require.NoError(t, d.Start())

	for {
		raw, err := d.Next(context.Background())
		if errors.Is(err, driver.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		copy(raw.AudioOut, raw.AudioIn)
		require.NoError(t, d.Commit(raw))
	}
	assert.Equal(t, uint64(3), d.Periods(), "40 frames span three 16-frame periods")
	require.NoError(t, d.Close())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	require.Len(t, buf.Data, 3*16*2)
	for i := 0; i < 40; i++ {
		assert.InDelta(t, i*100, buf.Data[2*i], 1)
		assert.InDelta(t, -i*100, buf.Data[2*i+1], 1)
	}
	for i := 40; i < 48; i++ {
		assert.Zero(t, buf.Data[2*i], "the last period is padded with silence")
	}
}

func TestMaxPeriodsWithoutInput(t *testing.T) {
	d := New(Options{MaxPeriods: 2})
	require.NoError(t, d.Open(audioOnlyGeometry(t)))
	require.NoError(t, d.Start())
	defer d.Close()

	for i := 0; i < 2; i++ {
		raw, err := d.Next(context.Background())
		require.NoError(t, err)
		require.NoError(t, d.Commit(raw))
	}
	_, err := d.Next(context.Background())
	assert.ErrorIs(t, err, driver.ErrEndOfStream)
}

func TestInvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o600))

	d := New(Options{InputPath: path})
	err := d.Open(audioOnlyGeometry(t))
	assert.ErrorIs(t, err, ErrInvalidWAV)

	d = New(Options{InputPath: filepath.Join(t.TempDir(), "missing.wav")})
	assert.Error(t, d.Open(audioOnlyGeometry(t)))
}
