// Package progress fans task events out to any number of passive observers.
package progress

import (
	"log"
	"sync"
)

// allTasks is the subscription key for observers of every task.
const allTasks = ""

const defaultBuffer = 16

// Subscription is an observer's handle. Events arrive on C until the
// subscription is cancelled.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	taskID string
}

// Hub broadcasts events. Publishing never blocks: an observer whose buffer is
// full misses the event, except completed and error events, which push out the
// oldest queued one instead.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscription]struct{}
	last        map[string]Event
	buffer      int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		last:        make(map[string]Event),
		buffer:      buffer,
	}
}

// Subscribe registers an observer for one task. The task's most recent event,
// if any, is delivered first.
func (h *Hub) Subscribe(taskID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := h.register(taskID)
	if ev, ok := h.last[taskID]; ok {
		sub.ch <- ev // fresh buffer, cannot block
	}
	return sub
}

// SubscribeAll registers an observer for every task. Observers filter
// client-side by task_id.
func (h *Hub) SubscribeAll() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.register(allTasks)
}

func (h *Hub) register(key string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, taskID: key}
	if _, ok := h.subscribers[key]; !ok {
		h.subscribers[key] = make(map[*Subscription]struct{})
	}
	h.subscribers[key][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the observer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sub.taskID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subscribers, sub.taskID)
	}
}

// Publish delivers ev to the task's observers and to every all-task observer.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[ev.TaskID] = ev
	h.send(h.subscribers[ev.TaskID], ev)
	h.send(h.subscribers[allTasks], ev)
}

func (h *Hub) send(subs map[*Subscription]struct{}, ev Event) {
	for sub := range subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		if !ev.Terminal() {
			log.Printf("Dropping %s event for task %s: subscriber is not keeping up", ev.Status, ev.TaskID)
			continue
		}
		forceSend(sub.ch, ev)
	}
}

// forceSend makes room for ev by discarding the oldest queued events. Callers
// hold h.mu, so no other sender competes for the freed slot.
func forceSend(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case old := <-ch:
			log.Printf("Dropping %s event for task %s to deliver %s", old.Status, old.TaskID, ev.Status)
		default:
		}
	}
}

// Last returns the most recent event published for the task.
func (h *Hub) Last(taskID string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev, ok := h.last[taskID]
	return ev, ok
}
