// Package metrics exposes render core state as Prometheus collectors. The render
// thread never touches these: monitors sample snapshots from the core and push
// them here off the real-time path.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Render loop metrics
	renderInvocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bela_render_invocations_total",
			Help: "Total number of render callback invocations",
		},
	)

	renderOverrunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bela_render_overruns_total",
			Help: "Total number of render invocations that exceeded the period",
		},
	)

	renderLastDurationSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_render_last_duration_seconds",
			Help: "Duration of the most recent render invocation",
		},
	)

	renderMaxDurationSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_render_max_duration_seconds",
			Help: "Longest render invocation observed",
		},
	)

	renderAverageDurationSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_render_average_duration_seconds",
			Help: "Average render invocation duration",
		},
	)

	renderPeriodSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_render_period_seconds",
			Help: "Wall-clock duration of one period",
		},
	)

	renderFramesElapsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_render_frames_elapsed",
			Help: "Audio frames rendered since start",
		},
	)

	lifecycleState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_lifecycle_state",
			Help: "Current lifecycle state code",
		},
	)

	// Auxiliary task metrics
	auxExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bela_aux_task_executions_total",
			Help: "Total number of auxiliary task executions",
		},
		[]string{"task"},
	)

	auxSchedulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bela_aux_task_schedules_total",
			Help: "Total number of schedule requests per auxiliary task",
		},
		[]string{"task"},
	)

	auxCoalescedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bela_aux_task_coalesced_total",
			Help: "Schedule requests merged into an already pending wake",
		},
		[]string{"task"},
	)

	auxModeSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bela_aux_task_mode_switches_total",
			Help: "Transitions from the expedited to the degraded domain",
		},
		[]string{"task"},
	)

	auxDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bela_aux_task_degraded",
			Help: "Whether the auxiliary task is currently in the degraded domain (1=yes, 0=no)",
		},
		[]string{"task"},
	)

	auxPriority = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bela_aux_task_priority",
			Help: "Configured priority of the auxiliary task",
		},
		[]string{"task"},
	)

	// Process metrics
	processCpuPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_process_cpu_percent",
			Help: "CPU usage percentage of the render core process",
		},
	)

	processMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_process_memory_percent",
			Help: "Memory usage percentage of the render core process",
		},
	)

	processMemoryRssBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_process_memory_rss_bytes",
			Help: "Resident set size of the render core process",
		},
	)

	processThreads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bela_process_threads",
			Help: "Number of OS threads of the render core process",
		},
	)

	// Metrics update tracking
	metricsUpdateMutex sync.Mutex
	lastMetricsUpdate  int64

	// Last reported cumulative values, used to turn snapshots into counter deltas
	renderInvocationsValue uint64
	renderOverrunsValue    uint64
	taskValues             = map[string]TaskSnapshot{}
)

// RenderSnapshot is a point-in-time view of the render loop
type RenderSnapshot struct {
	Invocations   uint64
	Overruns      uint64
	LastDuration  time.Duration
	MaxDuration   time.Duration
	AvgDuration   time.Duration
	Period        time.Duration
	FramesElapsed uint64
	StateCode     int
}

// TaskSnapshot is a point-in-time view of one auxiliary task
type TaskSnapshot struct {
	Name         string
	Priority     int
	Executions   uint64
	Schedules    uint64
	Coalesced    uint64
	ModeSwitches uint64
	Degraded     bool
}

// ProcessSnapshot carries process resource usage
type ProcessSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryRSS     uint64
	Threads       int32
}

// UpdateRenderMetrics updates Prometheus metrics with the render loop snapshot
func UpdateRenderMetrics(s RenderSnapshot) {
	oldInvocations := atomic.SwapUint64(&renderInvocationsValue, s.Invocations)
	if s.Invocations > oldInvocations {
		renderInvocationsTotal.Add(float64(s.Invocations - oldInvocations))
	}

	oldOverruns := atomic.SwapUint64(&renderOverrunsValue, s.Overruns)
	if s.Overruns > oldOverruns {
		renderOverrunsTotal.Add(float64(s.Overruns - oldOverruns))
	}

	renderLastDurationSeconds.Set(s.LastDuration.Seconds())
	renderMaxDurationSeconds.Set(s.MaxDuration.Seconds())
	renderAverageDurationSeconds.Set(s.AvgDuration.Seconds())
	renderPeriodSeconds.Set(s.Period.Seconds())
	renderFramesElapsed.Set(float64(s.FramesElapsed))
	lifecycleState.Set(float64(s.StateCode))

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// UpdateTaskMetrics updates Prometheus metrics with auxiliary task snapshots
func UpdateTaskMetrics(tasks []TaskSnapshot) {
	metricsUpdateMutex.Lock()
	defer metricsUpdateMutex.Unlock()

	for _, t := range tasks {
		old := taskValues[t.Name]
		if t.Executions > old.Executions {
			auxExecutionsTotal.WithLabelValues(t.Name).Add(float64(t.Executions - old.Executions))
		}
		if t.Schedules > old.Schedules {
			auxSchedulesTotal.WithLabelValues(t.Name).Add(float64(t.Schedules - old.Schedules))
		}
		if t.Coalesced > old.Coalesced {
			auxCoalescedTotal.WithLabelValues(t.Name).Add(float64(t.Coalesced - old.Coalesced))
		}
		if t.ModeSwitches > old.ModeSwitches {
			auxModeSwitchesTotal.WithLabelValues(t.Name).Add(float64(t.ModeSwitches - old.ModeSwitches))
		}
		if t.Degraded {
			auxDegraded.WithLabelValues(t.Name).Set(1)
		} else {
			auxDegraded.WithLabelValues(t.Name).Set(0)
		}
		auxPriority.WithLabelValues(t.Name).Set(float64(t.Priority))
		taskValues[t.Name] = t
	}

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// UpdateProcessMetrics updates Prometheus metrics with process resource usage
func UpdateProcessMetrics(p ProcessSnapshot) {
	metricsUpdateMutex.Lock()
	defer metricsUpdateMutex.Unlock()

	processCpuPercent.Set(p.CPUPercent)
	processMemoryPercent.Set(p.MemoryPercent)
	processMemoryRssBytes.Set(float64(p.MemoryRSS))
	processThreads.Set(float64(p.Threads))

	atomic.StoreInt64(&lastMetricsUpdate, time.Now().Unix())
}

// GetLastMetricsUpdate returns the timestamp of the last metrics update
func GetLastMetricsUpdate() time.Time {
	timestamp := atomic.LoadInt64(&lastMetricsUpdate)
	return time.Unix(timestamp, 0)
}
