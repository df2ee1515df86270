//go:build linux

package rtprio

import (
	"golang.org/x/sys/unix"
	"kernel.org/pub/linux/libs/security/libcap/cap"

	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/logging"
)

// setThreadPriority moves the current thread to SCHED_FIFO at priority and
// reports true. If the kernel refuses, a nice value derived from the priority
// is applied instead and it reports false.
func setThreadPriority(logger *logging.ComponentLogger, name string, priority int) (bool, error) {
	cfg := config.GetConfig()
	tid := unix.Gettid()

	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   uint32(cfg.SchedFIFO),
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		logger.GetLogger().Warn().Err(err).Str("thread", name).Int("priority", priority).
			Bool("cap_sys_nice", canRealtime()).Msg("failed to set real-time priority, falling back to nice")
		return false, setNicePriority(logger, tid, priority)
	}

	logger.LogPriorityChange(tid, priority, "fifo")
	return true, nil
}

// setNicePriority converts a real-time priority into a nice value
func setNicePriority(logger *logging.ComponentLogger, tid, rtPriority int) error {
	cfg := config.GetConfig()
	// RT 95 -> nice -14, RT 40 -> nice 0
	niceValue := (40 - rtPriority) / 4
	if niceValue < cfg.MinNiceValue {
		niceValue = cfg.MinNiceValue
	}
	if niceValue > cfg.MaxNiceValue {
		niceValue = cfg.MaxNiceValue
	}

	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, niceValue); err != nil {
		return err
	}
	logger.GetLogger().Debug().Int("tid", tid).Int("nice", niceValue).Msg("nice priority set as fallback")
	return nil
}

func resetThreadPriority(logger *logging.ComponentLogger, name string) error {
	attr := &unix.SchedAttr{
		Size:   unix.SizeofSchedAttr,
		Policy: uint32(config.GetConfig().SchedNormal),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return err
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), 0); err != nil {
		return err
	}
	logger.GetLogger().Trace().Str("thread", name).Msg("thread priority reset")
	return nil
}

func lockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

func canRealtime() bool {
	ok, err := cap.GetProc().GetFlag(cap.Effective, cap.SYS_NICE)
	return err == nil && ok
}
