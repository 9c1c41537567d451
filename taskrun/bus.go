package taskrun

import (
	"sync"
	"time"
)

// NotificationKind distinguishes task lifecycle notifications.
type NotificationKind string

const (
	NotifyStart       NotificationKind = "start"
	NotifyProcessExit NotificationKind = "process_exit"
	NotifyEnd         NotificationKind = "end"
)

// Notification is published for every lifecycle step of an execution.
type Notification struct {
	Kind        NotificationKind
	ExecutionID string
	Label       string
	ExitCode    int
	At          time.Time
}

// Bus fans notifications out to subscribers. Listeners run synchronously on
// the publishing goroutine and may unsubscribe themselves.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Notification)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Notification))}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent.
func (b *Bus) Subscribe(fn func(Notification)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers n to every current subscriber.
func (b *Bus) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	b.mu.Lock()
	fns := make([]func(Notification), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
