// Package eventbus fans workflow events out to live subscribers and
// retains a bounded per-workflow history for replay on subscribe.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"storyapp/backend/pkg/models"
)

const (
	// DefaultHistoryLimit bounds the per-workflow replay buffer.
	DefaultHistoryLimit = 200
	// DefaultHeartbeatInterval keeps idle connections alive through
	// proxies.
	DefaultHeartbeatInterval = 25 * time.Second

	// maxConsecutiveFailures is how many writes in a row may fail before
	// a subscriber is considered dead and pruned.
	maxConsecutiveFailures = 3
)

// Conn is the transport half of a subscription. The bus is agnostic to
// what carries the events; anything that can push a frame and signal
// failure works.
type Conn interface {
	WriteEvent(event models.WorkflowEvent) error
	WriteHeartbeat() error
	Close() error
}

// Config tunes a Bus. Zero values fall back to the defaults.
type Config struct {
	HistoryLimit      int
	HeartbeatInterval time.Duration
}

type subscriber struct {
	conn     Conn
	failures int
	done     chan struct{}
	once     sync.Once
}

// Bus is the per-workflow event broadcaster.
type Bus struct {
	mu          sync.Mutex
	historyCap  int
	heartbeat   time.Duration
	subscribers map[string]map[*subscriber]struct{}
	history     map[string][]models.WorkflowEvent
}

// New builds a Bus with the given config.
func New(cfg Config) *Bus {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Bus{
		historyCap:  cfg.HistoryLimit,
		heartbeat:   cfg.HeartbeatInterval,
		subscribers: make(map[string]map[*subscriber]struct{}),
		history:     make(map[string][]models.WorkflowEvent),
	}
}

// Publish assigns the event an id and timestamp if absent, appends it to
// the workflow's history and pushes it to every live subscriber.
func (b *Bus) Publish(event models.WorkflowEvent) models.WorkflowEvent {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	events := append(b.history[event.WorkflowID], event)
	if over := len(events) - b.historyCap; over > 0 {
		events = events[over:]
	}
	b.history[event.WorkflowID] = events

	for sub := range b.subscribers[event.WorkflowID] {
		b.deliverLocked(event.WorkflowID, sub, func() error {
			return sub.conn.WriteEvent(event)
		})
	}
	return event
}

// PublishStage emits a stage-category event.
func (b *Bus) PublishStage(workflowID, stageID string, status models.StageStatus, message string, meta map[string]any) {
	b.Publish(models.WorkflowEvent{
		WorkflowID: workflowID,
		Category:   models.EventStage,
		StageID:    stageID,
		Status:     string(status),
		Message:    message,
		Meta:       meta,
	})
}

// PublishInfo emits an info-category event.
func (b *Bus) PublishInfo(workflowID, message string, meta map[string]any) {
	b.Publish(models.WorkflowEvent{
		WorkflowID: workflowID,
		Category:   models.EventInfo,
		Message:    message,
		Meta:       meta,
	})
}

// PublishTTS emits a tts-category event.
func (b *Bus) PublishTTS(workflowID, status, message string, meta map[string]any) {
	b.Publish(models.WorkflowEvent{
		WorkflowID: workflowID,
		Category:   models.EventTTS,
		Status:     status,
		Message:    message,
		Meta:       meta,
	})
}

// Subscribe registers conn for a workflow's events, replays the retained
// history to it in order and starts a heartbeat loop. The returned
// function detaches and closes the connection; calling it twice is safe.
func (b *Bus) Subscribe(workflowID string, conn Conn) func() {
	sub := &subscriber{conn: conn, done: make(chan struct{})}

	b.mu.Lock()
	set, ok := b.subscribers[workflowID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subscribers[workflowID] = set
	}
	set[sub] = struct{}{}
	for _, event := range b.history[workflowID] {
		replayed := event
		if !b.deliverLocked(workflowID, sub, func() error {
			return sub.conn.WriteEvent(replayed)
		}) {
			break
		}
	}
	b.mu.Unlock()

	go b.heartbeatLoop(workflowID, sub)

	return func() { b.remove(workflowID, sub, true) }
}

// History returns a copy of the retained events for a workflow.
func (b *Bus) History(workflowID string) []models.WorkflowEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.WorkflowEvent(nil), b.history[workflowID]...)
}

// Clear drops a workflow's retained history.
func (b *Bus) Clear(workflowID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, workflowID)
}

// SubscriberCount reports how many live subscribers a workflow has.
func (b *Bus) SubscriberCount(workflowID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[workflowID])
}

func (b *Bus) heartbeatLoop(workflowID string, sub *subscriber) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			alive := b.deliverLocked(workflowID, sub, sub.conn.WriteHeartbeat)
			b.mu.Unlock()
			if !alive {
				return
			}
		}
	}
}

// deliverLocked runs one write and handles the consecutive-failure
// accounting. It reports whether the subscriber is still attached.
// Callers must hold b.mu.
func (b *Bus) deliverLocked(workflowID string, sub *subscriber, write func() error) bool {
	if _, attached := b.subscribers[workflowID][sub]; !attached {
		return false
	}
	if err := write(); err != nil {
		sub.failures++
		if sub.failures >= maxConsecutiveFailures {
			b.removeLocked(workflowID, sub, true)
			return false
		}
		return true
	}
	sub.failures = 0
	return true
}

func (b *Bus) remove(workflowID string, sub *subscriber, closeConn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(workflowID, sub, closeConn)
}

// removeLocked detaches a subscriber, stops its heartbeat loop and drops
// the workflow's subscriber set entirely once it is empty.
func (b *Bus) removeLocked(workflowID string, sub *subscriber, closeConn bool) {
	set, ok := b.subscribers[workflowID]
	if !ok {
		return
	}
	if _, attached := set[sub]; !attached {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subscribers, workflowID)
	}
	sub.once.Do(func() {
		close(sub.done)
		if closeConn {
			_ = sub.conn.Close()
		}
	})
}
