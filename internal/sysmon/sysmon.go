// Package sysmon samples resource usage of the running process and publishes
// it to the process metrics.
package sysmon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/logging"
	"github.com/misterbo94/Bela/internal/metrics"
)

// Sample is one resource usage reading of a process
type Sample struct {
	PID           int32     `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss_bytes"`
	MemoryVMS     uint64    `json:"memory_vms_bytes"`
	MemoryPercent float32   `json:"memory_percent"`
	Threads       int32     `json:"threads"`
	Timestamp     time.Time `json:"timestamp"`
}

// Monitor samples one process periodically
type Monitor struct {
	logger   zerolog.Logger
	proc     *process.Process
	interval time.Duration

	mu      sync.RWMutex
	last    Sample
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	samples chan Sample
}

// New creates a monitor for the current process. A zero interval uses the
// configured metrics update interval.
func New(interval time.Duration) (*Monitor, error) {
	return NewForPID(int32(os.Getpid()), interval)
}

// NewForPID creates a monitor for pid
func NewForPID(pid int32, interval time.Duration) (*Monitor, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	if interval <= 0 {
		interval = config.GetConfig().MetricsUpdateInterval
	}
	return &Monitor{
		logger:   logging.GetDefaultLogger().With().Str("component", "process-monitor").Logger(),
		proc:     proc,
		interval: interval,
		samples:  make(chan Sample, 16),
	}, nil
}

// Start begins sampling until ctx is done or Stop is called
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true
	go m.monitorLoop(ctx, m.done)
	m.logger.Info().Int32("pid", m.proc.Pid).Dur("interval", m.interval).Msg("process monitor started")
}

// Stop ends sampling and waits for the sampling goroutine
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info().Msg("process monitor stopped")
}

// Samples delivers every reading. Readings are dropped when nobody receives.
func (m *Monitor) Samples() <-chan Sample { return m.samples }

// Last returns the most recent reading
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	s, err := m.Collect()
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to sample process")
		return
	}
	select {
	case m.samples <- s:
	default:
	}
}

// Collect takes one reading now, records it as the latest and publishes it to
// the process metrics.
func (m *Monitor) Collect() (Sample, error) {
	s := Sample{PID: m.proc.Pid, Timestamp: time.Now()}

	mem, err := m.proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("memory info: %w", err)
	}
	s.MemoryRSS = mem.RSS
	s.MemoryVMS = mem.VMS

	// CPUPercent and MemoryPercent are best effort; containers may hide them
	if cpu, err := m.proc.CPUPercent(); err == nil {
		s.CPUPercent = cpu
	}
	if pct, err := m.proc.MemoryPercent(); err == nil {
		s.MemoryPercent = pct
	}
	if n, err := m.proc.NumThreads(); err == nil {
		s.Threads = n
	}

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()

	metrics.UpdateProcessMetrics(metrics.ProcessSnapshot{
		CPUPercent:    s.CPUPercent,
		MemoryPercent: float64(s.MemoryPercent),
		MemoryRSS:     s.MemoryRSS,
		Threads:       s.Threads,
	})
	return s, nil
}
