package events

import "sync"

// Topics published by the user store. Per-record variants append
// "." and the record id, e.g. "user.save.<id>".
const (
	TopicUserSave   = "user.save"
	TopicUserRemove = "user.remove"
)

// Handler receives a published payload.
type Handler func(payload interface{})

// Bus is a minimal in-process publish/subscribe channel. The user store
// announces record lifecycle changes on it; collaborators such as the
// realtime broadcast layer subscribe without the store knowing them.
type Bus interface {
	Publish(topic string, payload interface{})
	Subscribe(topic string, h Handler) (unsubscribe func())
}

type bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

// NewBus returns an empty in-memory bus safe for concurrent use.
func NewBus() Bus {
	return &bus{handlers: map[string]map[int]Handler{}}
}

func (b *bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		subs = append(subs, h)
	}
	b.mu.RUnlock()

	for _, h := range subs {
		h(payload)
	}
}

func (b *bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.handlers[topic] == nil {
		b.handlers[topic] = map[int]Handler{}
	}
	b.handlers[topic][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers[topic], id)
		b.mu.Unlock()
	}
}
