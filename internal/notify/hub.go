package notify

import (
	"context"
	"sync"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

// DefaultLimit caps how many notifications the hub keeps.
const DefaultLimit = 200

// Listener receives the notifications visible to its role, newest first.
// Calls arrive in the order the changes were made. A listener must not call
// back into the hub's mutating methods.
type Listener func([]model.Notification)

// Sink forwards published notifications outside the process.
type Sink interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

type subscriber struct {
	role model.Role
	fn   Listener
}

// Hub is the in-memory notification list. Publish prepends and fans out to
// subscribers; state is lost on restart.
type Hub struct {
	// deliver is held from a change until its listener calls return, so
	// snapshots reach every subscriber in change order
	deliver sync.Mutex

	mu        sync.Mutex
	items     []model.Notification
	listeners map[int]subscriber
	nextSub   int
	limit     int
	closed    bool

	ids    simjur.IDGenerator
	clock  simjur.Clock
	logger simjur.Logger

	sinks []Sink
	queue chan model.Notification
	wg    sync.WaitGroup
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithSinks forwards every published notification to sinks from a
// background goroutine.
func WithSinks(sinks ...Sink) HubOption {
	return func(h *Hub) { h.sinks = append(h.sinks, sinks...) }
}

// WithLimit overrides DefaultLimit.
func WithLimit(n int) HubOption {
	return func(h *Hub) { h.limit = n }
}

func NewHub(ids simjur.IDGenerator, clock simjur.Clock, logger simjur.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		listeners: make(map[int]subscriber),
		limit:     DefaultLimit,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if len(h.sinks) > 0 {
		h.queue = make(chan model.Notification, 256)
		h.wg.Add(1)
		go h.forward()
	}
	return h
}

// Publish stores n and notifies subscribers. ID and Timestamp are filled in
// when empty.
func (h *Hub) Publish(n model.Notification) model.Notification {
	if n.ID == "" {
		n.ID = h.ids.New()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = h.clock.Now()
	}
	if n.Severity == "" {
		n.Severity = model.SeverityInfo
	}
	n.Read = false

	h.deliver.Lock()
	defer h.deliver.Unlock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return n
	}
	h.items = append([]model.Notification{n}, h.items...)
	if len(h.items) > h.limit {
		h.items = h.items[:h.limit]
	}
	if h.queue != nil {
		select {
		case h.queue <- n:
		default:
			h.logger.Warn("notification sink queue full, dropping", "id", n.ID)
		}
	}
	calls := h.snapshotLocked()
	h.mu.Unlock()

	run(calls)
	return n
}

// Subscribe registers fn for role and immediately calls it with the current
// state. The returned func unsubscribes.
func (h *Hub) Subscribe(role model.Role, fn Listener) func() {
	h.deliver.Lock()
	defer h.deliver.Unlock()
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.listeners[id] = subscriber{role: role, fn: fn}
	current := h.visibleLocked(role)
	h.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// List returns the notifications visible to role, newest first.
func (h *Hub) List(role model.Role) []model.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visibleLocked(role)
}

// Unread counts unread notifications visible to role.
func (h *Hub) Unread(role model.Role) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, n := range h.items {
		if !n.Read && n.VisibleTo(role) {
			count++
		}
	}
	return count
}

// MarkRead marks one notification visible to role read. It reports whether
// such a notification was found.
func (h *Hub) MarkRead(role model.Role, id string) bool {
	h.deliver.Lock()
	defer h.deliver.Unlock()
	h.mu.Lock()
	found := false
	for i := range h.items {
		if h.items[i].ID == id && h.items[i].VisibleTo(role) {
			h.items[i].Read = true
			found = true
			break
		}
	}
	if !found {
		h.mu.Unlock()
		return false
	}
	calls := h.snapshotLocked()
	h.mu.Unlock()

	run(calls)
	return true
}

// MarkAllRead marks every notification visible to role read and returns
// how many changed.
func (h *Hub) MarkAllRead(role model.Role) int {
	h.deliver.Lock()
	defer h.deliver.Unlock()
	h.mu.Lock()
	changed := 0
	for i := range h.items {
		if !h.items[i].Read && h.items[i].VisibleTo(role) {
			h.items[i].Read = true
			changed++
		}
	}
	var calls []func()
	if changed > 0 {
		calls = h.snapshotLocked()
	}
	h.mu.Unlock()

	run(calls)
	return changed
}

// Close stops sink forwarding after draining queued notifications.
// Publish after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.queue != nil {
		close(h.queue)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) forward() {
	defer h.wg.Done()
	for n := range h.queue {
		for _, s := range h.sinks {
			if err := s.Send(context.Background(), n); err != nil {
				h.logger.Error("notification sink failed", "sink", s.Name(), "id", n.ID, "error", err)
			}
		}
	}
}

func (h *Hub) visibleLocked(role model.Role) []model.Notification {
	out := make([]model.Notification, 0, len(h.items))
	for _, n := range h.items {
		if n.VisibleTo(role) {
			out = append(out, n)
		}
	}
	return out
}

// snapshotLocked prepares listener calls to run after the lock is released.
func (h *Hub) snapshotLocked() []func() {
	calls := make([]func(), 0, len(h.listeners))
	for _, s := range h.listeners {
		fn, items := s.fn, h.visibleLocked(s.role)
		calls = append(calls, func() { fn(items) })
	}
	return calls
}

func run(calls []func()) {
	for _, c := range calls {
		c()
	}
}

var _ simjur.Notifier = (*Hub)(nil)
