package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	bela "github.com/misterbo94/Bela"
	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/logging"
)

const meterPriority = 50

// passthrough copies audio inputs to outputs and reports input peaks from an
// auto-scheduled auxiliary task
type passthrough struct {
	core *bela.Core
	peak atomic.Uint32
}

func (p *passthrough) Setup(ctx *bela.RenderContext, _ any) bool {
	_, err := p.core.CreateAuxiliaryTask(p.meter, meterPriority, "peak-meter", bela.WithAutoSchedule())
	if err != nil {
		logging.GetDefaultLogger().Error().Err(err).Msg("failed to create peak meter")
		return false
	}
	logging.GetDefaultLogger().Info().
		Int("frames", ctx.AudioFrames).
		Int("channels", ctx.AudioInChannels).
		Float64("rate", ctx.AudioSampleRate).
		Msg("passthrough ready")
	return true
}

func (p *passthrough) Render(ctx *bela.RenderContext, _ any) {
	channels := min(ctx.AudioInChannels, ctx.AudioOutChannels)
	var peak float32
	for f := 0; f < ctx.AudioFrames; f++ {
		for ch := 0; ch < channels; ch++ {
			v := ctx.AudioRead(f, ch)
			ctx.AudioWrite(f, ch, v)
			if a := float32(math.Abs(float64(v))); a > peak {
				peak = a
			}
		}
	}
	for {
		old := p.peak.Load()
		if peak <= math.Float32frombits(old) || p.peak.CompareAndSwap(old, math.Float32bits(peak)) {
			break
		}
	}
}

func (p *passthrough) Cleanup(*bela.RenderContext, any) {
	logging.GetDefaultLogger().Info().Uint64("frames", p.core.Elapsed()).Msg("passthrough finished")
}

func (p *passthrough) meter(tc *bela.TaskContext) {
	peak := math.Float32frombits(p.peak.Swap(0))
	if peak == 0 {
		return
	}
	logging.GetDefaultLogger().Trace().
		Str("task", tc.Name()).
		Float64("peak_db", 20*math.Log10(float64(peak))).
		Msg("input peak")
}

func runCommand(load func(*cobra.Command) (config.Settings, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run an audio passthrough on the configured driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			core, err := bela.New(settings)
			if err != nil {
				return err
			}
			return runCore(ctx, core, &passthrough{core: core})
		},
	}
}

// runCore drives core from setup to cleanup, stopping on ctx
func runCore(ctx context.Context, core *bela.Core, prog bela.Program) error {
	if err := core.Init(prog, nil); err != nil {
		_ = core.Cleanup()
		return err
	}
	if err := core.Start(); err != nil {
		_ = core.Cleanup()
		return err
	}
	if addr := core.MonitorAddr(); addr != "" {
		logging.GetDefaultLogger().Info().Str("addr", addr).Msg("diagnostics available")
	}

	select {
	case <-ctx.Done():
		logging.GetDefaultLogger().Info().Msg("signal received, stopping")
		core.Stop()
	case <-core.Done():
	}
	if err := core.Wait(context.Background()); err != nil {
		return err
	}
	if err := core.Cleanup(); err != nil {
		return err
	}
	return core.Fault()
}
