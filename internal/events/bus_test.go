package events

import (
	"sync"
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	var got []interface{}
	bus.Subscribe("user.save", func(payload interface{}) {
		got = append(got, payload)
	})

	bus.Publish("user.save", "a")
	bus.Publish("user.remove", "ignored")
	bus.Publish("user.save", "b")

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected payloads: %v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe("user.save", func(interface{}) { calls++ })

	bus.Publish("user.save", nil)
	unsubscribe()
	bus.Publish("user.save", nil)

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestConcurrentPublish(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("topic", func(interface{}) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish("topic", nil)
		}()
	}
	wg.Wait()

	if count != 8 {
		t.Fatalf("count = %d, want 8", count)
	}
}
