package monitor

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/misterbo94/Bela/internal/auxtask"
	"github.com/misterbo94/Bela/internal/config"
	"github.com/misterbo94/Bela/internal/lifecycle"
	"github.com/misterbo94/Bela/internal/logging"
)

// EventType names a websocket event
type EventType string

const (
	EventStateChanged  EventType = "lifecycle-state-changed"
	EventTaskDegraded  EventType = "task-degraded"
	EventMetricsUpdate EventType = "metrics-update"
)

// Event is one message on the event stream
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// StateChangedData describes a lifecycle transition
type StateChangedData struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
	Time   string `json:"time"`
}

// TaskDegradedData describes a task leaving the expedited domain
type TaskDegradedData struct {
	Handle       string `json:"handle"`
	Name         string `json:"name"`
	Reason       string `json:"reason"`
	ModeSwitches uint64 `json:"mode_switches"`
}

type subscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger zerolog.Logger
}

// Broadcaster fans events out to websocket subscribers
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	logger      zerolog.Logger

	// queue carries events from callers that must not wait on subscriber
	// writes; a single drain goroutine keeps them in order
	queue    chan Event
	draining atomic.Bool
	dropped  atomic.Uint64
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		logger:      logging.GetDefaultLogger().With().Str("component", "monitor-events").Logger(),
		queue:       make(chan Event, max(config.GetConfig().EventQueueSize, 1)),
	}
}

// Subscribe registers conn and returns its subscriber id. The subscription
// ends when ctx is done or a write fails.
func (b *Broadcaster) Subscribe(ctx context.Context, conn *websocket.Conn) string {
	id := uuid.NewString()
	l := b.logger.With().Str("subscriber", id).Logger()

	b.mu.Lock()
	b.subscribers[id] = &subscriber{conn: conn, ctx: ctx, logger: l}
	b.mu.Unlock()

	l.Debug().Msg("event subscription added")
	return id
}

// Unsubscribe removes the subscriber id
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		b.logger.Debug().Str("subscriber", id).Msg("event subscription removed")
	}
}

// Count returns the number of subscribers
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// SendTo writes ev to a single subscriber
func (b *Broadcaster) SendTo(id string, ev Event) bool {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return b.send(sub, ev)
}

// Broadcast writes ev to every subscriber and drops those that fail
func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.RLock()
	subs := make(map[string]*subscriber, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs[id] = sub
	}
	b.mu.RUnlock()

	var failed []string
	for id, sub := range subs {
		if !b.send(sub, ev) {
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, id := range failed {
			delete(b.subscribers, id)
			b.logger.Warn().Str("subscriber", id).Msg("removed failed event subscriber")
		}
		b.mu.Unlock()
	}
}

// StateChanged is a lifecycle.StateListener that broadcasts transitions. It
// only queues the event, so it never waits on a subscriber.
func (b *Broadcaster) StateChanged(from, to lifecycle.State, reason string) {
	b.enqueue(Event{Type: EventStateChanged, Data: StateChangedData{
		From:   from.String(),
		To:     to.String(),
		Reason: reason,
		Time:   time.Now().Format(config.GetConfig().EventTimeFormatString),
	}})
}

// TaskDegraded broadcasts a task domain switch. It runs on the task's own
// goroutine, so the event is only queued.
func (b *Broadcaster) TaskDegraded(ev auxtask.DegradedEvent) {
	b.enqueue(Event{Type: EventTaskDegraded, Data: TaskDegradedData{
		Handle:       ev.Handle.String(),
		Name:         ev.Name,
		Reason:       ev.Reason,
		ModeSwitches: ev.ModeSwitches,
	}})
}

// Dropped returns the number of events discarded because the queue was full
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

func (b *Broadcaster) enqueue(ev Event) {
	select {
	case b.queue <- ev:
	default:
		if b.dropped.Add(1) == 1 {
			b.logger.Warn().Str("type", string(ev.Type)).Msg("event queue full, dropping events")
		}
		return
	}
	if b.draining.CompareAndSwap(false, true) {
		go b.drain()
	}
}

// drain broadcasts queued events and exits once the queue is empty
func (b *Broadcaster) drain() {
	for {
		select {
		case ev := <-b.queue:
			b.Broadcast(ev)
			continue
		default:
		}
		b.draining.Store(false)
		// An enqueue between the empty check and the store found draining set
		if len(b.queue) == 0 || !b.draining.CompareAndSwap(false, true) {
			return
		}
	}
}

func (b *Broadcaster) send(sub *subscriber, ev Event) bool {
	if sub.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(sub.ctx, config.GetConfig().EventWriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, sub.conn, ev); err != nil {
		// Closed connections are expected when a client goes away
		if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) ||
			websocket.CloseStatus(err) != -1 {
			sub.logger.Debug().Err(err).Msg("websocket closed during event send")
		} else {
			sub.logger.Warn().Err(err).Msg("failed to send event to subscriber")
		}
		return false
	}
	return true
}
