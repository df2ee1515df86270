package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/levels"
	"github.com/misterbo94/Bela/internal/lifecycle"
)

type fakeSource struct {
	mu    sync.Mutex
	stats lifecycle.Stats
	tasks []auxtask.Stats
}

func (f *fakeSource) Stats() lifecycle.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) Tasks() []auxtask.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auxtask.Stats(nil), f.tasks...)
}

func (f *fakeSource) Levels() levels.State {
	return levels.State{DACLevel: -1.5, HeadphoneLevel: -6}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stats: lifecycle.Stats{
			State:       lifecycle.Running,
			Invocations: 42,
			Overruns:    1,
			Elapsed:     42 * 16,
			Period:      363 * time.Microsecond,
			MaxRender:   500 * time.Microsecond,
		},
		tasks: []auxtask.Stats{
			{Name: "meter", Priority: 40, Executions: 7, Schedules: 9, Coalesced: 2, Domain: auxtask.Degraded},
		},
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(newFakeSource(), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StatusData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "running", st.Render.State)
	assert.Equal(t, uint64(42), st.Render.Invocations)
	assert.Equal(t, uint64(672), st.Render.FramesElapsed)
	assert.Equal(t, "0.500ms", st.Render.MaxRender)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, "meter", st.Tasks[0].Name)
	assert.Equal(t, "degraded", st.Tasks[0].Domain)
	assert.Equal(t, -1.5, st.Levels.DACLevel)
	assert.Nil(t, st.Process)
}

func TestMetricsEndpoint(t *testing.T) {
	src := newFakeSource()
	srv := NewServer(src, Options{})
	srv.updater.Publish()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "bela_render_invocations_total")
	assert.Contains(t, text, `bela_aux_task_executions_total{task="meter"}`)
}

func dialEvents(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(url, "http")+"/events", nil)
	require.NoError(t, err)
	return conn
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	var ev map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	return ev
}

func TestEventStream(t *testing.T) {
	srv := NewServer(newFakeSource(), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, ts.URL)
	defer conn.CloseNow()

	ev := readEvent(t, ctx, conn)
	assert.Equal(t, string(EventMetricsUpdate), ev["type"])
	require.Eventually(t, func() bool { return srv.Events().Count() == 1 }, time.Second, time.Millisecond)

	srv.Events().StateChanged(lifecycle.Running, lifecycle.Stopping, "stop requested")
	ev = readEvent(t, ctx, conn)
	assert.Equal(t, string(EventStateChanged), ev["type"])
	data := ev["data"].(map[string]any)
	assert.Equal(t, "running", data["from"])
	assert.Equal(t, "stopping", data["to"])
	assert.Equal(t, "stop requested", data["reason"])

	srv.Events().TaskDegraded(auxtask.DegradedEvent{Name: "meter", Reason: "sleep", ModeSwitches: 3})
	ev = readEvent(t, ctx, conn)
	assert.Equal(t, string(EventTaskDegraded), ev["type"])
	data = ev["data"].(map[string]any)
	assert.Equal(t, "meter", data["name"])
	assert.Equal(t, float64(3), data["mode_switches"])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return srv.Events().Count() == 0 }, 2*time.Second, time.Millisecond)
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Broadcast(Event{Type: EventMetricsUpdate})
	b.TaskDegraded(auxtask.DegradedEvent{Name: "x"})
	assert.False(t, b.SendTo("missing", Event{}))
	assert.Zero(t, b.Count())
}

func TestStateChangedDoesNotWaitForSubscribers(t *testing.T) {
	b := NewBroadcaster()

	// Holding the subscriber lock stalls every write the way a stuck client would
	b.mu.Lock()
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		b.StateChanged(lifecycle.Initialized, lifecycle.Running, "render loop started")
		b.StateChanged(lifecycle.Running, lifecycle.Stopping, "stop requested")
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("StateChanged blocked on a stalled subscriber")
	}
	b.mu.Unlock()

	require.Eventually(t, func() bool { return len(b.queue) == 0 && !b.draining.Load() }, time.Second, time.Millisecond)
	assert.Zero(t, b.Dropped())
}

func TestStateChangesKeepOrder(t *testing.T) {
	srv := NewServer(newFakeSource(), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, ts.URL)
	defer conn.CloseNow()
	readEvent(t, ctx, conn)
	require.Eventually(t, func() bool { return srv.Events().Count() == 1 }, time.Second, time.Millisecond)

	steps := []lifecycle.State{lifecycle.Configured, lifecycle.Initialized, lifecycle.Running, lifecycle.Stopping, lifecycle.Cleaned}
	from := lifecycle.Uninitialized
	for _, to := range steps {
		srv.Events().StateChanged(from, to, "step")
		from = to
	}
	for _, want := range steps {
		ev := readEvent(t, ctx, conn)
		require.Equal(t, string(EventStateChanged), ev["type"])
		assert.Equal(t, want.String(), ev["data"].(map[string]any)["to"])
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return srv.Events().Count() == 0 }, 2*time.Second, time.Millisecond)
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	b.mu.Lock()
	for i := 0; i < cap(b.queue)+10; i++ {
		b.TaskDegraded(auxtask.DegradedEvent{Name: "x"})
	}
	// One event may already be held by the drain goroutine
	assert.GreaterOrEqual(t, b.Dropped(), uint64(9))
	b.mu.Unlock()
	require.Eventually(t, func() bool { return len(b.queue) == 0 && !b.draining.Load() }, time.Second, time.Millisecond)
}

func TestStartShutdown(t *testing.T) {
	srv := NewServer(newFakeSource(), Options{Addr: "127.0.0.1:0", Interval: 5 * time.Millisecond})
	require.NoError(t, srv.Start(context.Background()))
	assert.Error(t, srv.Start(context.Background()))

	addr := srv.Addr()
	require.NotEmpty(t, addr)

	client := &http.Client{}
	resp, err := client.Get("http://" + addr + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))
}

func TestSnapshotConversion(t *testing.T) {
	src := newFakeSource()
	rs := toRenderSnapshot(src.Stats())
	assert.Equal(t, uint64(42), rs.Invocations)
	assert.Equal(t, int(lifecycle.Running), rs.StateCode)

	ts := toTaskSnapshots(src.Tasks())
	require.Len(t, ts, 1)
	assert.True(t, ts[0].Degraded)
	assert.Equal(t, 40, ts[0].Priority)
}
