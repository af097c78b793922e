package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of the run history: a run or action changing state or
// a policy violation.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	Package   string                 `json:"package,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeActionStarted   = "action.started"
	EventTypeActionCompleted = "action.completed"
	EventTypeActionFailed    = "action.failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

var (
	errPublisherClosed = errors.New("event publisher closed")
	errBufferFull      = errors.New("event buffer full, event dropped")
)

// EventSubscriber receives published events.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. In async mode events are
// queued and delivered in batches from a single goroutine, in publish
// order; otherwise Publish delivers before returning. Subscribers run one
// at a time and must not block for long.
type EventPublisher struct {
	config EventsConfig

	mu      sync.RWMutex
	subs    []subscription
	filters []EventFilter

	queue  chan Event
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewEventPublisher creates a publisher for cfg. A disabled publisher
// accepts and drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}

	if cfg.MinLevel != "" {
		ep.filters = append(ep.filters, FilterByLevel(cfg.MinLevel))
	}

	if cfg.EnableAsync {
		if ep.config.MaxBatchSize <= 0 {
			ep.config.MaxBatchSize = 1
		}
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.closed = make(chan struct{})
		ep.done = make(chan struct{})
		go ep.run()
	}

	return ep, nil
}

// Publish stamps event with an ID and time when missing and hands it to the
// subscribers. Events rejected by a publisher filter are dropped silently.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !ep.accepts(event) {
		return nil
	}

	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case <-ep.closed:
		return errPublisherClosed
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return errBufferFull
	}
}

func (ep *EventPublisher) accepts(event Event) bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, f := range ep.filters {
		if !f(event) {
			return false
		}
	}
	return true
}

// Subscribe registers fn for the events accepted by filter, or for every
// event when filter is nil.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

// AddFilter drops events rejected by filter before any subscriber sees them.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) deliver(events ...Event) {
	ep.mu.RLock()
	subs := append([]subscription(nil), ep.subs...)
	ep.mu.RUnlock()

	for _, e := range events {
		for _, s := range subs {
			if s.filter == nil || s.filter(e) {
				s.fn(e)
			}
		}
	}
}

// run batches queued events until the publisher is closed, then drains the
// queue.
func (ep *EventPublisher) run() {
	defer close(ep.done)

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		ticker := time.NewTicker(ep.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		if len(batch) > 0 {
			ep.deliver(batch...)
			batch = batch[:0]
		}
	}

	for {
		select {
		case e := <-ep.queue:
			batch = append(batch, e)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.closed:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Shutdown delivers the queued events and stops the publisher. It returns
// an error if ctx ends first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep.queue == nil {
		return nil
	}

	ep.once.Do(func() { close(ep.closed) })

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func (ep *EventPublisher) engineEvent(typ, level, runID, action, msg string, data map[string]interface{}) error {
	return ep.Publish(Event{
		Type:    typ,
		Source:  "engine",
		RunID:   runID,
		Action:  action,
		Message: msg,
		Level:   level,
		Data:    data,
	})
}

// PublishRunStarted publishes run.started.
func (ep *EventPublisher) PublishRunStarted(runID, kind, pkg string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		RunID:   runID,
		Package: pkg,
		Message: fmt.Sprintf("%s of %s started", kind, pkg),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"kind": kind},
	})
}

// PublishRunCompleted publishes run.completed with the final status.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.engineEvent(EventTypeRunCompleted, EventLevelInfo, runID, "",
		fmt.Sprintf("Run %s", status),
		map[string]interface{}{"status": status, "duration": duration.Seconds()})
}

// PublishRunFailed publishes run.failed.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.engineEvent(EventTypeRunFailed, EventLevelError, runID, "",
		"Run aborted: "+reason,
		map[string]interface{}{"reason": reason})
}

// PublishActionStarted publishes action.started.
func (ep *EventPublisher) PublishActionStarted(runID, action, provider string) error {
	return ep.engineEvent(EventTypeActionStarted, EventLevelInfo, runID, action,
		action+" started",
		map[string]interface{}{"provider": provider})
}

// PublishActionCompleted publishes action.completed.
func (ep *EventPublisher) PublishActionCompleted(runID, action, provider string, duration time.Duration) error {
	return ep.engineEvent(EventTypeActionCompleted, EventLevelInfo, runID, action,
		action+" completed",
		map[string]interface{}{"provider": provider, "duration": duration.Seconds()})
}

// PublishActionFailed publishes action.failed.
func (ep *EventPublisher) PublishActionFailed(runID, action, provider, reason string) error {
	return ep.engineEvent(EventTypeActionFailed, EventLevelError, runID, action,
		action+" aborted: "+reason,
		map[string]interface{}{"provider": provider, "reason": reason})
}

// PublishPolicyViolation publishes policy.violation. Blocking severities
// are published at error level, the rest as warnings.
func (ep *EventPublisher) PublishPolicyViolation(pkg, policy, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Package: pkg,
		Message: fmt.Sprintf("Policy %s: %s", policy, reason),
		Level:   level,
		Data:    map[string]interface{}{"policy": policy, "severity": severity},
	})
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool {
		return levelRank[e.Level] >= floor
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}
