package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/lifecycle"
	"github.com/misterbo94/Bela/internal/metrics"
)

// Source exposes the state of a running core. Every method must be safe to
// call from any goroutine.
type Source interface {
	Stats() lifecycle.Stats
	Tasks() []auxtask.Stats
	Levels() levels.State
}

// RenderData is the render loop part of a status report
type RenderData struct {
	State         string `json:"state"`
	Invocations   uint64 `json:"invocations"`
	Overruns      uint64 `json:"overruns"`
	FramesElapsed uint64 `json:"frames_elapsed"`
	Period        string `json:"period"`
	LastRender    string `json:"last_render"`
	MaxRender     string `json:"max_render"`
	AvgRender     string `json:"average_render"`
}

// TaskData is one auxiliary task in a status report
type TaskData struct {
	Handle       string `json:"handle"`
	Name         string `json:"name"`
	Priority     int    `json:"priority"`
	AutoSchedule bool   `json:"auto_schedule"`
	Running      bool   `json:"running"`
	Pending      bool   `json:"pending"`
	Domain       string `json:"domain"`
	Schedules    uint64 `json:"schedules"`
	Coalesced    uint64 `json:"coalesced"`
	Executions   uint64 `json:"executions"`
	ModeSwitches uint64 `json:"mode_switches"`
	Panics       uint64 `json:"panics"`
}

// StatusData is the body of /status and of metrics-update events
type StatusData struct {
	Render    RenderData   `json:"render"`
	Tasks     []TaskData   `json:"tasks"`
	Levels    levels.State `json:"levels"`
	Process   *ProcessData `json:"process,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// ProcessData is the resource usage part of a status report
type ProcessData struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	MemoryRSS     uint64  `json:"memory_rss_bytes"`
	Threads       int32   `json:"threads"`
}

func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d.Nanoseconds())/1e6)
}

func renderData(s lifecycle.Stats) RenderData {
	return RenderData{
		State:         s.State.String(),
		Invocations:   s.Invocations,
		Overruns:      s.Overruns,
		FramesElapsed: s.Elapsed,
		Period:        formatMs(s.Period),
		LastRender:    formatMs(s.LastRender),
		MaxRender:     formatMs(s.MaxRender),
		AvgRender:     formatMs(s.AvgRender),
	}
}

func taskData(tasks []auxtask.Stats) []TaskData {
	out := make([]TaskData, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskData{
			Handle:       t.Handle.String(),
			Name:         t.Name,
			Priority:     t.Priority,
			AutoSchedule: t.AutoSchedule,
			Running:      t.Running,
			Pending:      t.Pending,
			Domain:       t.Domain.String(),
			Schedules:    t.Schedules,
			Coalesced:    t.Coalesced,
			Executions:   t.Executions,
			ModeSwitches: t.ModeSwitches,
			Panics:       t.Panics,
		})
	}
	return out
}

// toRenderSnapshot converts lifecycle stats to the metrics representation
func toRenderSnapshot(s lifecycle.Stats) metrics.RenderSnapshot {
	return metrics.RenderSnapshot{
		Invocations:   s.Invocations,
		Overruns:      s.Overruns,
		LastDuration:  s.LastRender,
		MaxDuration:   s.MaxRender,
		AvgDuration:   s.AvgRender,
		Period:        s.Period,
		FramesElapsed: s.Elapsed,
		StateCode:     int(s.State),
	}
}

func toTaskSnapshots(tasks []auxtask.Stats) []metrics.TaskSnapshot {
	out := make([]metrics.TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, metrics.TaskSnapshot{
			Name:         t.Name,
			Priority:     t.Priority,
			Executions:   t.Executions,
			Schedules:    t.Schedules,
			Coalesced:    t.Coalesced,
			ModeSwitches: t.ModeSwitches,
			Degraded:     t.Domain == auxtask.Degraded,
		})
	}
	return out
}

// Updater periodically publishes the source state to the metrics and to
// event subscribers. It pulls snapshots so nothing is pushed from the render
// thread.
type Updater struct {
	src      Source
	events   *Broadcaster
	process  func() *ProcessData
	interval time.Duration
}

// NewUpdater creates an updater. A zero interval uses the configured metrics
// update interval. process may be nil.
func NewUpdater(src Source, events *Broadcaster, process func() *ProcessData, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = config.GetConfig().MetricsUpdateInterval
	}
	return &Updater{src: src, events: events, process: process, interval: interval}
}

// Status builds a status report from the source
func (u *Updater) Status() StatusData {
	st := StatusData{
		Render:    renderData(u.src.Stats()),
		Tasks:     taskData(u.src.Tasks()),
		Levels:    u.src.Levels(),
		Timestamp: time.Now().Format(config.GetConfig().EventTimeFormatString),
	}
	if u.process != nil {
		st.Process = u.process()
	}
	return st
}

// Publish updates the metrics once and broadcasts a metrics-update event
func (u *Updater) Publish() {
	stats := u.src.Stats()
	tasks := u.src.Tasks()
	metrics.UpdateRenderMetrics(toRenderSnapshot(stats))
	metrics.UpdateTaskMetrics(toTaskSnapshots(tasks))

	if u.events == nil || u.events.Count() == 0 {
		return
	}
	u.events.Broadcast(Event{Type: EventMetricsUpdate, Data: u.Status()})
}

// Run publishes every interval until ctx is done
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final publish so counters reflect the end of the run
			u.Publish()
			return
		case <-ticker.C:
			u.Publish()
		}
	}
}
