package event

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Mr-Dark-debug/radview/internal/engine"
	"github.com/Mr-Dark-debug/radview/internal/logging"
)

// Handler handles a published event.
type Handler func(Event)

// wildcard is the subscription key for SubscribeAll.
const wildcard = "*"

// DefaultBuffer is the queue capacity used when Options.Buffer is zero.
const DefaultBuffer = 256

// Options configures a Bus.
type Options struct {
	Buffer int
	Logger *logging.Logger
}

// Bus is the only listener registered with the engine. Engine callbacks,
// which may run on any goroutine, are normalized and queued; the host
// goroutine drains the queue and publishes to subscribers, so handlers
// always run on the host.
type Bus struct {
	eng   engine.Engine
	log   *logging.Logger
	relay *relay

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	attached bool
	subs     map[string][]*Subscription
	nextID   atomic.Uint64

	received atomic.Int64
	dropped  atomic.Int64
}

// relay is the engine.Listener the bus registers. It is a pointer so the
// engine can compare it on removal.
type relay struct {
	bus *Bus
}

func (r *relay) HandleEngineEvent(ev engine.RawEvent) {
	r.bus.enqueue(ev)
}

// NewBus returns a bus for eng. Call Attach to start receiving events.
func NewBus(eng engine.Engine, opts Options) *Bus {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	log := opts.Logger
	if log == nil {
		log = logging.NopLogger()
	}
	b := &Bus{
		eng:   eng,
		log:   log.WithComponent("bus"),
		queue: make(chan Event, opts.Buffer),
		done:  make(chan struct{}),
		subs:  make(map[string][]*Subscription),
	}
	b.relay = &relay{bus: b}
	return b
}

// Attach registers the relay under every engine event name and alias.
// Calling it again is a no-op.
func (b *Bus) Attach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached {
		return
	}
	for _, name := range engine.EventNames() {
		b.eng.AddEventListener(name, b.relay)
	}
	b.attached = true
}

// Detach removes every listener registered by Attach. Idempotent.
func (b *Bus) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return
	}
	for _, name := range engine.EventNames() {
		b.eng.RemoveEventListener(name, b.relay)
	}
	b.attached = false
}

// Attached reports whether the relay is registered.
func (b *Bus) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attached
}

// Close detaches from the engine and unblocks pending enqueues and Run.
func (b *Bus) Close() {
	b.Detach()
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Bus) enqueue(raw engine.RawEvent) {
	b.received.Add(1)
	ev, ok := Normalize(raw)
	if !ok {
		b.dropped.Add(1)
		b.log.Debug("dropping engine event", "type", raw.Type, "load_id", raw.LoadID)
		return
	}
	select {
	case b.queue <- ev:
	case <-b.done:
		b.dropped.Add(1)
	}
}

// Events is the queue of normalized events waiting to be published.
func (b *Bus) Events() <-chan Event {
	return b.queue
}

// Done is closed by Close.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Pending is the number of queued events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// Drain publishes every queued event and returns how many it published.
func (b *Bus) Drain() int {
	n := 0
	for {
		select {
		case ev := <-b.queue:
			b.Publish(ev)
			n++
		default:
			return n
		}
	}
}

// Run publishes queued events until ctx is done or the bus is closed.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case ev := <-b.queue:
			b.Publish(ev)
		}
	}
}

// Subscription is returned by Subscribe. Release is idempotent.
type Subscription struct {
	id      uint64
	typ     string
	handler Handler
	bus     *Bus
	once    sync.Once
}

// Release removes the subscription from its bus.
func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.bus.remove(s) })
}

// Subscribe registers h for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{id: b.nextID.Add(1), typ: eventType, handler: h, bus: b}
	b.subs[eventType] = append(b.subs[eventType], s)
	return s
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) *Subscription {
	return b.Subscribe(wildcard, h)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.typ]
	for i, existing := range list {
		if existing.id == s.id {
			b.subs[s.typ] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[s.typ]) == 0 {
		delete(b.subs, s.typ)
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}

// Publish calls type-specific handlers and then wildcard handlers, each in
// registration order. A panicking handler is logged and skipped.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	specific := append([]*Subscription(nil), b.subs[ev.EventType()]...)
	all := append([]*Subscription(nil), b.subs[wildcard]...)
	b.mu.RUnlock()

	for _, s := range specific {
		b.safeCall(s.handler, ev)
	}
	for _, s := range all {
		b.safeCall(s.handler, ev)
	}
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"type", ev.EventType(),
				"generation", ev.Generation(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	h(ev)
}

// Stats reports counters for the raw event stream.
type Stats struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Pending  int   `json:"pending"`
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Received: b.received.Load(),
		Dropped:  b.dropped.Load(),
		Pending:  len(b.queue),
	}
}
