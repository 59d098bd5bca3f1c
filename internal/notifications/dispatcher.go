package notifications

import (
	"context"
	"sync"
)

const defaultSubscriberBuffer = 16

// Dispatcher fans notifications out to in-process subscribers keyed by
// recipient. Slow subscribers miss messages rather than block publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Notification
}

func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a stream for recipientID until ctx ends or the
// returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, recipientID string) (<-chan Notification, func()) {
	if recipientID == "" {
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Notification, d.bufferSize),
	}
	d.register(recipientID, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(recipientID, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers without blocking. It never returns an error.
func (d *Dispatcher) Publish(_ context.Context, notification Notification) error {
	if notification.RecipientID == "" {
		return nil
	}
	d.mu.RLock()
	targets := d.subscribers[notification.RecipientID]
	if len(targets) == 0 {
		d.mu.RUnlock()
		return nil
	}
	copies := make([]*subscriber, 0, len(targets))
	for _, sub := range targets {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- notification:
		default:
		}
	}
	return nil
}

// SubscriberCount reports active subscriptions for recipientID.
func (d *Dispatcher) SubscriberCount(recipientID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[recipientID])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(recipientID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[recipientID]; !ok {
		d.subscribers[recipientID] = make(map[int64]*subscriber)
	}
	d.subscribers[recipientID][sub.id] = sub
}

func (d *Dispatcher) unregister(recipientID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subscribers[recipientID]
	if subs == nil {
		return
	}
	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(d.subscribers, recipientID)
	}
}
