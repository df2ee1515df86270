//go:build !linux

package rtprio

import "github.com/misterbo94/Bela/internal/logging"

func setThreadPriority(logger *logging.ComponentLogger, name string, priority int) (bool, error) {
	logger.GetLogger().Debug().Str("thread", name).Int("priority", priority).Msg("thread priorities not supported on this platform")
	return false, nil
}

func resetThreadPriority(*logging.ComponentLogger, string) error { return nil }

func lockMemory() error { return nil }

func canRealtime() bool { return false }
